// v1
// internal/ingest/consumer.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ogdevsanskar/ecoversa/internal/circuitbreaker"
	"github.com/ogdevsanskar/ecoversa/internal/metrics"
	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// ConsumerConfig captures the tunables of one topic consumer.
type ConsumerConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	PollTimeout  time.Duration
	RetryBackoff time.Duration
}

// Handler processes one message. Errors wrapping an invalid-payload sentinel
// drop the message; any other error retries it until it succeeds or the
// consumer stops.
type Handler func(ctx context.Context, msg kafka.Message) error

// ReadingFunc receives decoded sensor readings.
type ReadingFunc func(ctx context.Context, r model.SensorReading) error

// ActionFunc receives decoded user actions.
type ActionFunc func(ctx context.Context, a model.UserAction) error

// PredictionFunc receives decoded prediction batches.
type PredictionFunc func(ctx context.Context, b model.PredictionBatch) error

type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer streams one Kafka topic into a Handler, committing each offset
// only once the message has been handled or deliberately dropped.
type Consumer struct {
	cfg     ConsumerConfig
	source  string
	reader  messageCommitter
	fetcher circuitbreaker.MessageReader
	handle  Handler
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewConsumer builds a group reader for cfg.Topic wrapped by breaker.
func NewConsumer(cfg ConsumerConfig, breaker *circuitbreaker.KafkaBreaker, handle Handler, m *metrics.Metrics, log *slog.Logger) (*Consumer, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	name := "consumer-" + cfg.Topic
	if breaker.Enabled() {
		log.Info("consumer_cb_enabled", slog.String("name", name))
	} else {
		log.Info("consumer_cb_disabled", slog.String("name", name))
	}
	return newConsumerWithReader(cfg, reader, circuitbreaker.NewCBKafkaReader(reader, breaker), handle, m, log)
}

func newConsumerWithReader(cfg ConsumerConfig, reader messageCommitter, fetcher circuitbreaker.MessageReader, handle Handler, m *metrics.Metrics, log *slog.Logger) (*Consumer, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if reader == nil || fetcher == nil {
		return nil, errors.New("reader must not be nil")
	}
	if handle == nil {
		return nil, errors.New("handler must not be nil")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Consumer{
		cfg:     cfg,
		source:  "kafka:" + cfg.Topic,
		reader:  reader,
		fetcher: fetcher,
		handle:  handle,
		metrics: m,
		log:     log.With(slog.String("component", "consumer"), slog.String("topic", cfg.Topic)),
	}, nil
}

// Close shuts down the underlying Kafka reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run blocks until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("nil consumer")
	}
	if ctx == nil {
		return errors.New("context must not be nil")
	}

	c.log.Info("consumer_started",
		slog.String("group", c.cfg.GroupID),
		slog.String("brokers", strings.Join(c.cfg.Brokers, ",")),
		slog.Duration("pollTimeout", c.cfg.PollTimeout),
	)
	defer c.log.Info("consumer_stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.fetcher.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.log.Error("consumer_fetch_error", slog.Any("err", err))
			continue
		}

		if !c.process(ctx, msg) {
			return ctx.Err()
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.log.Error("consumer_commit_error", slog.Any("err", err), slog.Int64("offset", msg.Offset))
			}
		}
		commitCancel()
	}
}

// process runs the handler until the message is handled or dropped. It
// returns false when ctx ends first, leaving the offset uncommitted.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if Permanent(err) {
			c.metrics.DecodeDrop(c.source, "invalid")
			c.log.Warn("consumer_message_dropped", slog.Any("err", err), slog.Int64("offset", msg.Offset))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.log.Error("consumer_handle_error",
			slog.Any("err", err),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
		)
		timer := time.NewTimer(c.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// Permanent reports whether err marks a payload that will never succeed.
func Permanent(err error) bool {
	return errors.Is(err, model.ErrInvalidReading) ||
		errors.Is(err, model.ErrInvalidAction) ||
		errors.Is(err, model.ErrUnknownMetric) ||
		errors.Is(err, model.ErrInvalidPrediction)
}

// MessageID derives a stable UUID from the topic, partition and offset of
// msg.
func MessageID(msg kafka.Message) string {
	name := fmt.Sprintf("kafka://%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// ReadingHandler decodes message values as sensor readings.
func ReadingHandler(fn ReadingFunc, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, msg kafka.Message) error {
		r, err := DecodeReading(msg.Value, Hint{ID: MessageID(msg)}, now())
		if err != nil {
			return err
		}
		return fn(ctx, r)
	}
}

// ActionHandler decodes message values as user actions.
func ActionHandler(fn ActionFunc, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, msg kafka.Message) error {
		a, err := DecodeAction(msg.Value, Hint{ID: MessageID(msg)}, now())
		if err != nil {
			return err
		}
		return fn(ctx, a)
	}
}

// PredictionHandler decodes message values as prediction batches.
func PredictionHandler(fn PredictionFunc, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, msg kafka.Message) error {
		b, err := DecodePrediction(msg.Value, Hint{ID: MessageID(msg)}, now())
		if err != nil {
			return err
		}
		return fn(ctx, b)
	}
}
