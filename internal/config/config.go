// v1
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures the runtime settings of the engine. Values are layered
// from defaults, an optional properties file and environment variables, in
// that order, so the service boots with no setup at all.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the path of the append-only log file.
	LogFilePath string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// KafkaBrokers lists the bootstrap brokers. Empty disables Kafka.
	KafkaBrokers       []string
	ReadingsTopic      string
	ActionsTopic       string
	PredictionsTopic   string
	NotificationsTopic string
	ConsumerGroupID    string
	PollTimeout        time.Duration

	// DatabaseURL is the PostgreSQL DSN. Empty selects in-memory storage.
	DatabaseURL     string
	DatabaseMaxConn int
	StorageTimeout  time.Duration
	// HistoryRetention caps the readings kept per building+metric by the
	// in-memory store.
	HistoryRetention int

	// RedisAddr enables the live-metrics push when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LiveChannel   string

	// MQTTBroker enables the sensor gateway subscriber when set.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	HistoryWindow      int
	RecentActionsLimit int
	ReportSchedule     string
	LeaderboardRefresh time.Duration
}

const (
	defaultListenAddress  = ":8090"
	defaultLogFile        = "logs/ecoversa.log"
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultShutdown       = 5 * time.Second
	defaultPropsPath      = "ecoversa.properties"
	defaultReadingsTopic  = "campus.readings"
	defaultActionsTopic   = "campus.actions"
	defaultPredictTopic   = "campus.predictions"
	defaultNotifyTopic    = "campus.notifications"
	defaultConsumerGroup  = "ecoversa-engine"
	defaultPollTimeout    = 5 * time.Second
	defaultStorageTimeout = 3 * time.Second
	defaultRetention      = 10000
	defaultLiveChannel    = "live-metrics"
	defaultMQTTTopic      = "campus/+/+"
	defaultMQTTClientID   = "ecoversa-engine"
	defaultHistoryWindow  = 100
	defaultRecentActions  = 30
	defaultReportSchedule = "0 2 * * *"
	defaultBoardRefresh   = time.Minute
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddress:      defaultListenAddress,
		LogFilePath:        filepath.Clean(defaultLogFile),
		HTTPReadTimeout:    defaultReadTimeout,
		HTTPWriteTimeout:   defaultWriteTimeout,
		ShutdownTimeout:    defaultShutdown,
		ReadingsTopic:      defaultReadingsTopic,
		ActionsTopic:       defaultActionsTopic,
		PredictionsTopic:   defaultPredictTopic,
		NotificationsTopic: defaultNotifyTopic,
		ConsumerGroupID:    defaultConsumerGroup,
		PollTimeout:        defaultPollTimeout,
		StorageTimeout:     defaultStorageTimeout,
		HistoryRetention:   defaultRetention,
		LiveChannel:        defaultLiveChannel,
		MQTTTopic:          defaultMQTTTopic,
		MQTTClientID:       defaultMQTTClientID,
		HistoryWindow:      defaultHistoryWindow,
		RecentActionsLimit: defaultRecentActions,
		ReportSchedule:     defaultReportSchedule,
		LeaderboardRefresh: defaultBoardRefresh,
	}
}

// Load resolves configuration by layering defaults, an optional
// properties file, and finally environment variables. The properties
// file location can be overridden with ECOVERSA_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Default()

	propsPath := strings.TrimSpace(os.Getenv("ECOVERSA_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setting binds one property key, its environment variables (first match
// wins) and the parser that stores the value.
type setting struct {
	property string
	env      []string
	set      func(cfg *Config, value string) error
}

var settings = []setting{
	{"listen_address", []string{"ECOVERSA_LISTEN_ADDRESS"}, nonEmpty(func(c *Config, v string) { c.ListenAddress = v })},
	{"log_path", []string{"ECOVERSA_LOG_PATH"}, nonEmpty(func(c *Config, v string) { c.LogFilePath = filepath.Clean(v) })},
	{"http_read_timeout_ms", []string{"ECOVERSA_HTTP_READ_TIMEOUT_MS"}, millis(func(c *Config, d time.Duration) { c.HTTPReadTimeout = d })},
	{"http_write_timeout_ms", []string{"ECOVERSA_HTTP_WRITE_TIMEOUT_MS"}, millis(func(c *Config, d time.Duration) { c.HTTPWriteTimeout = d })},
	{"shutdown_timeout_ms", []string{"ECOVERSA_SHUTDOWN_TIMEOUT_MS"}, millis(func(c *Config, d time.Duration) { c.ShutdownTimeout = d })},
	{"kafka_brokers", []string{"ECOVERSA_KAFKA_BROKERS", "KAFKA_BROKERS"}, func(c *Config, v string) error {
		c.KafkaBrokers = splitAndTrim(v)
		return nil
	}},
	{"readings_topic", []string{"ECOVERSA_READINGS_TOPIC"}, nonEmpty(func(c *Config, v string) { c.ReadingsTopic = v })},
	{"actions_topic", []string{"ECOVERSA_ACTIONS_TOPIC"}, nonEmpty(func(c *Config, v string) { c.ActionsTopic = v })},
	{"predictions_topic", []string{"ECOVERSA_PREDICTIONS_TOPIC"}, nonEmpty(func(c *Config, v string) { c.PredictionsTopic = v })},
	{"notifications_topic", []string{"ECOVERSA_NOTIFICATIONS_TOPIC"}, nonEmpty(func(c *Config, v string) { c.NotificationsTopic = v })},
	{"consumer_group_id", []string{"ECOVERSA_CONSUMER_GROUP"}, nonEmpty(func(c *Config, v string) { c.ConsumerGroupID = v })},
	{"poll_timeout_ms", []string{"ECOVERSA_POLL_TIMEOUT_MS"}, millis(func(c *Config, d time.Duration) { c.PollTimeout = d })},
	{"database_url", []string{"ECOVERSA_DATABASE_URL", "DATABASE_URL"}, func(c *Config, v string) error {
		c.DatabaseURL = v
		return nil
	}},
	{"database_max_conns", []string{"ECOVERSA_DATABASE_MAX_CONNS"}, positive(func(c *Config, n int) { c.DatabaseMaxConn = n })},
	{"storage_timeout_ms", []string{"ECOVERSA_STORAGE_TIMEOUT_MS"}, millis(func(c *Config, d time.Duration) { c.StorageTimeout = d })},
	{"history_retention", []string{"ECOVERSA_HISTORY_RETENTION"}, positive(func(c *Config, n int) { c.HistoryRetention = n })},
	{"redis_addr", []string{"ECOVERSA_REDIS_ADDR", "REDIS_ADDR"}, func(c *Config, v string) error {
		c.RedisAddr = v
		return nil
	}},
	{"redis_password", []string{"ECOVERSA_REDIS_PASSWORD"}, func(c *Config, v string) error {
		c.RedisPassword = v
		return nil
	}},
	{"redis_db", []string{"ECOVERSA_REDIS_DB"}, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid redis db %q", v)
		}
		c.RedisDB = n
		return nil
	}},
	{"live_channel", []string{"ECOVERSA_LIVE_CHANNEL"}, nonEmpty(func(c *Config, v string) { c.LiveChannel = v })},
	{"mqtt_broker", []string{"ECOVERSA_MQTT_BROKER", "MQTT_BROKER"}, func(c *Config, v string) error {
		c.MQTTBroker = v
		return nil
	}},
	{"mqtt_topic", []string{"ECOVERSA_MQTT_TOPIC"}, nonEmpty(func(c *Config, v string) { c.MQTTTopic = v })},
	{"mqtt_client_id", []string{"ECOVERSA_MQTT_CLIENT_ID"}, nonEmpty(func(c *Config, v string) { c.MQTTClientID = v })},
	{"history_window", []string{"ECOVERSA_HISTORY_WINDOW"}, positive(func(c *Config, n int) { c.HistoryWindow = n })},
	{"recent_actions_limit", []string{"ECOVERSA_RECENT_ACTIONS_LIMIT"}, positive(func(c *Config, n int) { c.RecentActionsLimit = n })},
	{"report_schedule", []string{"ECOVERSA_REPORT_SCHEDULE"}, nonEmpty(func(c *Config, v string) { c.ReportSchedule = v })},
	{"leaderboard_refresh_ms", []string{"ECOVERSA_LEADERBOARD_REFRESH_MS"}, millis(func(c *Config, d time.Duration) { c.LeaderboardRefresh = d })},
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	byKey := make(map[string]setting, len(settings))
	for _, s := range settings {
		byKey[s.property] = s
	}

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		s, ok := byKey[key]
		if !ok {
			// Unknown keys are ignored to keep the loader forward-compatible.
			continue
		}
		if err := s.set(cfg, strings.TrimSpace(parts[1])); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	for _, s := range settings {
		for _, key := range s.env {
			v, ok := lookupEnvTrimmed(key)
			if !ok {
				continue
			}
			if err := s.set(cfg, v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			break
		}
	}
	return nil
}

func nonEmpty(apply func(*Config, string)) func(*Config, string) error {
	return func(c *Config, v string) error {
		if v == "" {
			return errors.New("value cannot be empty")
		}
		apply(c, v)
		return nil
	}
}

func millis(apply func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := parsePositiveMillis(v)
		if err != nil {
			return err
		}
		apply(c, d)
		return nil
	}
}

func positive(apply func(*Config, int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		if n <= 0 {
			return errors.New("value must be positive")
		}
		apply(c, n)
		return nil
	}
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
