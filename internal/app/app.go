// v4
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/ogdevsanskar/ecoversa/internal/circuitbreaker"
	"github.com/ogdevsanskar/ecoversa/internal/config"
	"github.com/ogdevsanskar/ecoversa/internal/core"
	httpserver "github.com/ogdevsanskar/ecoversa/internal/http"
	"github.com/ogdevsanskar/ecoversa/internal/ingest"
	"github.com/ogdevsanskar/ecoversa/internal/leaderboard"
	"github.com/ogdevsanskar/ecoversa/internal/live"
	"github.com/ogdevsanskar/ecoversa/internal/metrics"
	"github.com/ogdevsanskar/ecoversa/internal/metricstore"
	"github.com/ogdevsanskar/ecoversa/internal/model"
	"github.com/ogdevsanskar/ecoversa/internal/notify"
	"github.com/ogdevsanskar/ecoversa/internal/report"
	"github.com/ogdevsanskar/ecoversa/internal/schedule"
	"github.com/ogdevsanskar/ecoversa/internal/storage"
	"github.com/ogdevsanskar/ecoversa/internal/storage/postgres"
)

const (
	consumerRetryBackoff = time.Second
	mqttHandleTimeout    = 10 * time.Second
	reportTimeout        = 5 * time.Minute
)

// Application owns every long-running component of the engine and the
// resources they share.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	logFile   *os.File
	server    *http.Server
	health    *httpserver.HealthState
	telemetry *metrics.Metrics

	store     storage.Store
	live      *live.Publisher
	publisher *notify.KafkaPublisher
	board     *leaderboard.Board
	consumers []*ingest.Consumer
	mqtt      *ingest.Subscriber
	daily     *schedule.Daily
}

// New wires storage, the processing core, ingestion, notifications, the
// report scheduler and the HTTP API from cfg. Optional integrations stay
// disabled when their address is empty.
func New(ctx context.Context, cfg config.Config) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	logPath := filepath.Clean(cfg.LogFilePath)
	if logPath == "" || logPath == "." {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	a := &Application{
		cfg:       cfg,
		logger:    newLogger(lf),
		logFile:   lf,
		health:    httpserver.NewHealthState(),
		telemetry: metrics.New(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	if err := a.openStorage(ctx); err != nil {
		return err
	}

	a.board = leaderboard.NewBoard(a.store, logger)
	gen, err := report.NewGenerator(a.store, a.store, a.board, logger)
	if err != nil {
		return fmt.Errorf("report generator init: %w", err)
	}

	var livePub core.LivePublisher
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		pub, err := live.Dial(ctx, live.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.LiveChannel,
		}, logger)
		if err != nil {
			return fmt.Errorf("live publisher init: %w", err)
		}
		a.live = pub
		livePub = pub
		a.health.AddChecker("redis", pub.Ping)
	}

	kafkaEnabled := len(cfg.KafkaBrokers) > 0
	var breaker *circuitbreaker.KafkaBreaker
	var notifier notify.Notifier = notify.Nop{}
	if kafkaEnabled {
		breaker, err = circuitbreaker.NewKafkaBreakerFromEnv("kafka", kafkaProbe(cfg.KafkaBrokers),
			circuitbreaker.WithLogger(logger),
			circuitbreaker.WithStateListener(func(name string, _, to circuitbreaker.State) {
				a.telemetry.SetBreakerState(name, to.String())
			}),
		)
		if err != nil {
			return fmt.Errorf("circuit breaker init: %w", err)
		}
		pub, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.NotificationsTopic,
		}, breaker, a.telemetry.Notification, logger)
		if err != nil {
			return fmt.Errorf("notification publisher init: %w", err)
		}
		a.publisher = pub
		notifier = pub
	} else {
		logger.Warn("kafka_disabled", slog.String("reason", "no brokers configured"))
	}

	proc, err := core.NewProcessor(core.Deps{
		Store:     a.store,
		Metrics:   metricstore.New(),
		Reports:   gen,
		Board:     a.board,
		Live:      livePub,
		Notifier:  notifier,
		Telemetry: a.telemetry,
		Logger:    logger,
	}, core.Options{
		HistoryWindow:      cfg.HistoryWindow,
		RecentActionsLimit: cfg.RecentActionsLimit,
		StorageTimeout:     cfg.StorageTimeout,
	})
	if err != nil {
		return fmt.Errorf("processor init: %w", err)
	}

	onReading := func(ctx context.Context, r model.SensorReading) error {
		_, err := proc.OnReading(ctx, r)
		return err
	}
	onPrediction := func(ctx context.Context, b model.PredictionBatch) error {
		_, err := proc.OnPrediction(ctx, b)
		return err
	}

	if kafkaEnabled {
		topics := []struct {
			topic  string
			handle ingest.Handler
		}{
			{cfg.ReadingsTopic, ingest.ReadingHandler(onReading, time.Now)},
			{cfg.ActionsTopic, ingest.ActionHandler(proc.OnAction, time.Now)},
			{cfg.PredictionsTopic, ingest.PredictionHandler(onPrediction, time.Now)},
		}
		for _, t := range topics {
			consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
				Brokers:      cfg.KafkaBrokers,
				Topic:        t.topic,
				GroupID:      cfg.ConsumerGroupID,
				PollTimeout:  cfg.PollTimeout,
				RetryBackoff: consumerRetryBackoff,
			}, breaker, t.handle, a.telemetry, logger)
			if err != nil {
				return fmt.Errorf("consumer %s init: %w", t.topic, err)
			}
			a.consumers = append(a.consumers, consumer)
		}
	}

	if strings.TrimSpace(cfg.MQTTBroker) != "" {
		sub, err := ingest.NewSubscriber(ingest.MQTTConfig{
			Broker:        cfg.MQTTBroker,
			ClientID:      cfg.MQTTClientID,
			Topic:         cfg.MQTTTopic,
			QoS:           1,
			HandleTimeout: mqttHandleTimeout,
		}, onReading, a.telemetry, logger)
		if err != nil {
			return fmt.Errorf("mqtt subscriber init: %w", err)
		}
		a.mqtt = sub
	}

	daily, err := schedule.New(cfg.ReportSchedule, proc.OnScheduledDaily, reportTimeout, logger)
	if err != nil {
		return fmt.Errorf("report scheduler init: %w", err)
	}
	a.daily = daily

	router := httpserver.NewRouter(logger.With(slog.String("component", "http")), a.health, proc, a.telemetry)
	a.server = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	logger.Info("engine_configured",
		slog.Bool("kafka", kafkaEnabled),
		slog.Bool("postgres", strings.TrimSpace(cfg.DatabaseURL) != ""),
		slog.Bool("redis", a.live != nil),
		slog.Bool("mqtt", a.mqtt != nil),
		slog.String("report_schedule", cfg.ReportSchedule),
	)
	return nil
}

func (a *Application) openStorage(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.DatabaseURL) == "" {
		a.logger.Warn("storage_in_memory", slog.Int("history_retention", a.cfg.HistoryRetention))
		a.store = storage.NewMemory(a.cfg.HistoryRetention)
		return nil
	}
	pg, err := postgres.Open(ctx, a.cfg.DatabaseURL, a.cfg.DatabaseMaxConn, a.logger)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	a.store = pg
	a.health.AddChecker("postgres", pg.Ping)
	return nil
}

// kafkaProbe dials the first reachable broker; the breaker runs it before
// leaving the open state.
func kafkaProbe(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var lastErr error
		for _, broker := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err
				continue
			}
			return conn.Close()
		}
		return fmt.Errorf("no kafka broker reachable: %w", lastErr)
	}
}

// Logger exposes the configured slog logger so main can keep logging after
// initialization.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run blocks until ctx is cancelled or a component fails, then shuts
// everything down in reverse dependency order.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.publisher != nil {
		if err := a.publisher.Start(gctx); err != nil {
			return fmt.Errorf("start notification publisher: %w", err)
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.Start(gctx); err != nil {
			return fmt.Errorf("start mqtt subscriber: %w", err)
		}
	}
	if err := a.daily.Start(gctx); err != nil {
		return fmt.Errorf("start report scheduler: %w", err)
	}

	g.Go(func() error {
		a.health.SetReady(true)
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http_server_error", slog.Any("err", err))
			return err
		}
		return nil
	})
	for _, c := range a.consumers {
		c := c
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("consumer_error", slog.Any("err", err))
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		return a.board.Run(gctx, a.cfg.LeaderboardRefresh)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown_signal")
		a.health.SetReady(false)
		return a.shutdown()
	})

	err := g.Wait()
	if err != nil {
		return err
	}
	a.logger.Info("shutdown_complete")
	return nil
}

func (a *Application) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("server_shutdown_failed", slog.Any("err", err))
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.mqtt != nil {
		a.mqtt.Stop()
	}
	if err := a.daily.Stop(shutdownCtx); err != nil {
		a.logger.Warn("report_scheduler_stop_timeout", slog.Any("err", err))
	}
	if a.publisher != nil {
		if err := a.publisher.Stop(shutdownCtx); err != nil {
			a.logger.Warn("notification_publisher_stop_failed", slog.Any("err", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the resources owned by the application instance.
func (a *Application) Close() error {
	var errs []error
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.consumers = nil
	if a.live != nil {
		if err := a.live.Close(); err != nil {
			errs = append(errs, err)
		}
		a.live = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.store = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logFile = nil
	}
	return errors.Join(errs...)
}
