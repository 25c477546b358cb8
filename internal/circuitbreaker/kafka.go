// v2
// internal/circuitbreaker/kafka.go
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter mirrors the subset of kafka.Writer used by the wrappers.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageReader mirrors the subset of kafka.Reader used by the wrappers.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// KafkaSettings are the tunables of a KafkaBreaker.
type KafkaSettings struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	OpenFor          time.Duration
	AttemptTimeout   time.Duration
	Backoff          time.Duration
}

// KafkaBreaker adds per-attempt timeouts and back-off retries on top of a
// Breaker for Kafka producers and consumers.
type KafkaBreaker struct {
	enabled          bool
	failureThreshold int
	timeout          time.Duration
	backoff          time.Duration
	breaker          *Breaker
}

// Enabled reports whether breaker protections are active.
func (k *KafkaBreaker) Enabled() bool {
	return k != nil && k.enabled && k.breaker != nil
}

// Breaker exposes the underlying breaker for inspection and testing.
func (k *KafkaBreaker) Breaker() *Breaker {
	if k == nil {
		return nil
	}
	return k.breaker
}

// NewKafkaBreaker validates settings and builds the wrapper policy.
func NewKafkaBreaker(name string, s KafkaSettings, probe func(ctx context.Context) error, opts ...Option) (*KafkaBreaker, error) {
	if s.FailureThreshold < 1 {
		return nil, fmt.Errorf("CB_KAFKA_FAILURE_THRESHOLD must be >= 1")
	}
	if s.SuccessThreshold < 1 {
		return nil, fmt.Errorf("CB_KAFKA_SUCCESS_THRESHOLD must be >= 1")
	}
	if s.OpenFor <= 0 {
		return nil, fmt.Errorf("CB_KAFKA_OPEN_SECONDS must be > 0")
	}
	if s.AttemptTimeout < 0 {
		return nil, fmt.Errorf("CB_KAFKA_TIMEOUT_MS must be >= 0")
	}
	if s.Backoff < 0 {
		return nil, fmt.Errorf("CB_KAFKA_BACKOFF_MS must be >= 0")
	}
	kb := &KafkaBreaker{
		enabled:          s.Enabled,
		failureThreshold: s.FailureThreshold,
		timeout:          s.AttemptTimeout,
		backoff:          s.Backoff,
	}
	if s.Enabled {
		kb.breaker = New(name, Config{
			MaxFailures:      s.FailureThreshold,
			ResetTimeout:     s.OpenFor,
			SuccessesToClose: s.SuccessThreshold,
		}, probe, opts...)
	}
	return kb, nil
}

// SettingsFromEnv reads the shared CB_* environment contract:
//   - CB_ENABLED (default: false)
//   - CB_KAFKA_FAILURE_THRESHOLD (default: 5)
//   - CB_KAFKA_SUCCESS_THRESHOLD (default: 2)
//   - CB_KAFKA_OPEN_SECONDS (default: 30)
//   - CB_KAFKA_TIMEOUT_MS (default: 3000)
//   - CB_KAFKA_BACKOFF_MS (default: 200)
func SettingsFromEnv() (KafkaSettings, error) {
	failureThreshold, err := parseEnvInt("CB_KAFKA_FAILURE_THRESHOLD", 5)
	if err != nil {
		return KafkaSettings{}, err
	}
	successThreshold, err := parseEnvInt("CB_KAFKA_SUCCESS_THRESHOLD", 2)
	if err != nil {
		return KafkaSettings{}, err
	}
	openSeconds, err := parseEnvFloat("CB_KAFKA_OPEN_SECONDS", 30)
	if err != nil {
		return KafkaSettings{}, err
	}
	timeoutMS, err := parseEnvInt("CB_KAFKA_TIMEOUT_MS", 3000)
	if err != nil {
		return KafkaSettings{}, err
	}
	backoffMS, err := parseEnvInt("CB_KAFKA_BACKOFF_MS", 200)
	if err != nil {
		return KafkaSettings{}, err
	}
	return KafkaSettings{
		Enabled:          parseEnvBool("CB_ENABLED"),
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		OpenFor:          time.Duration(openSeconds * float64(time.Second)),
		AttemptTimeout:   time.Duration(timeoutMS) * time.Millisecond,
		Backoff:          time.Duration(backoffMS) * time.Millisecond,
	}, nil
}

// NewKafkaBreakerFromEnv combines SettingsFromEnv and NewKafkaBreaker.
func NewKafkaBreakerFromEnv(name string, probe func(ctx context.Context) error, opts ...Option) (*KafkaBreaker, error) {
	s, err := SettingsFromEnv()
	if err != nil {
		return nil, err
	}
	return NewKafkaBreaker(name, s, probe, opts...)
}

// CBKafkaWriter wraps a kafka writer with breaker protection.
type CBKafkaWriter struct {
	breaker *KafkaBreaker
	writer  MessageWriter
}

// NewCBKafkaWriter wires breaker protections around writer.
func NewCBKafkaWriter(writer MessageWriter, breaker *KafkaBreaker) *CBKafkaWriter {
	return &CBKafkaWriter{writer: writer, breaker: breaker}
}

// WriteMessages publishes msgs with retry and back-off driven by the breaker.
func (w *CBKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.writer == nil {
		return errors.New("nil kafka writer")
	}
	return w.breaker.do(ctx, func(execCtx context.Context) error {
		return w.writer.WriteMessages(execCtx, msgs...)
	})
}

// CBKafkaReader wraps a kafka reader with breaker protection.
type CBKafkaReader struct {
	breaker *KafkaBreaker
	reader  MessageReader
}

// NewCBKafkaReader applies breaker logic to FetchMessage calls.
func NewCBKafkaReader(reader MessageReader, breaker *KafkaBreaker) *CBKafkaReader {
	return &CBKafkaReader{reader: reader, breaker: breaker}
}

// FetchMessage fetches the next message. Fetches block until data arrives,
// so no per-attempt timeout is applied.
func (r *CBKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r == nil || r.reader == nil {
		return kafka.Message{}, errors.New("nil kafka reader")
	}
	var msg kafka.Message
	err := r.breaker.doWithoutTimeout(ctx, func(execCtx context.Context) error {
		m, err := r.reader.FetchMessage(execCtx)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

func (k *KafkaBreaker) do(ctx context.Context, op func(ctx context.Context) error) error {
	return k.run(ctx, op, true)
}

func (k *KafkaBreaker) doWithoutTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	return k.run(ctx, op, false)
}

func (k *KafkaBreaker) run(ctx context.Context, op func(ctx context.Context) error, bounded bool) error {
	if !k.Enabled() {
		return op(ctx)
	}
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if bounded && k.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, k.timeout)
		}
		err := k.breaker.Execute(attemptCtx, op)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrOpen) && attempts >= k.failureThreshold {
			return err
		}
		if waitErr := k.waitBackoff(ctx); waitErr != nil {
			return waitErr
		}
	}
}

func (k *KafkaBreaker) waitBackoff(ctx context.Context) error {
	if k.backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(k.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseEnvInt(key string, def int) (int, error) {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return def, nil
	}
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseEnvFloat(key string, def float64) (float64, error) {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
