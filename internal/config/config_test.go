// v0
// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range settings {
		for _, key := range s.env {
			if _, ok := os.LookupEnv(key); ok {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECOVERSA_PROPERTIES_PATH", filepath.Join(t.TempDir(), "missing.properties"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddress != ":8090" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.DatabaseURL != "" || cfg.RedisAddr != "" || cfg.MQTTBroker != "" {
		t.Fatalf("expected optional integrations disabled by default: %+v", cfg)
	}
	if cfg.HistoryWindow != 100 || cfg.RecentActionsLimit != 30 {
		t.Fatalf("unexpected windows %d/%d", cfg.HistoryWindow, cfg.RecentActionsLimit)
	}
	if cfg.ReportSchedule != "0 2 * * *" {
		t.Fatalf("unexpected schedule %q", cfg.ReportSchedule)
	}
	if cfg.PredictionsTopic != "campus.predictions" {
		t.Fatalf("unexpected predictions topic %q", cfg.PredictionsTopic)
	}
}

func TestLoadLayersPropertiesThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ecoversa.properties")
	props := "# engine\nlisten_address = :9000\nkafka_brokers = k1:9092, k2:9092\nstorage_timeout_ms=1500\npredictions_topic=ml.out\nunknown_key=ignored\n"
	if err := os.WriteFile(path, []byte(props), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("ECOVERSA_PROPERTIES_PATH", path)
	t.Setenv("ECOVERSA_LISTEN_ADDRESS", ":9100")
	t.Setenv("DATABASE_URL", "postgres://localhost/ecoversa?sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddress != ":9100" {
		t.Fatalf("expected env to override properties, got %q", cfg.ListenAddress)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.StorageTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected storage timeout %s", cfg.StorageTimeout)
	}
	if cfg.DatabaseURL == "" {
		t.Fatalf("expected DATABASE_URL fallback to apply")
	}
	if cfg.PredictionsTopic != "ml.out" {
		t.Fatalf("unexpected predictions topic %q", cfg.PredictionsTopic)
	}
}

func TestLoadPrefersPrefixedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECOVERSA_PROPERTIES_PATH", filepath.Join(t.TempDir(), "missing.properties"))
	t.Setenv("ECOVERSA_REDIS_ADDR", "redis-a:6379")
	t.Setenv("REDIS_ADDR", "redis-b:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisAddr != "redis-a:6379" {
		t.Fatalf("expected prefixed variable to win, got %q", cfg.RedisAddr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"ECOVERSA_HISTORY_WINDOW":       "0",
		"ECOVERSA_POLL_TIMEOUT_MS":      "soon",
		"ECOVERSA_READINGS_TOPIC":       "",
		"ECOVERSA_REDIS_DB":             "-1",
		"ECOVERSA_HTTP_READ_TIMEOUT_MS": "-5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("ECOVERSA_PROPERTIES_PATH", filepath.Join(t.TempDir(), "missing.properties"))
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadRejectsMalformedProperties(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.properties")
	if err := os.WriteFile(path, []byte("listen_address\n"), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("ECOVERSA_PROPERTIES_PATH", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected malformed properties to fail")
	}
}
