// v1
// internal/circuitbreaker/breaker_test.go
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	var transitions []string
	b := New("unit", Config{MaxFailures: 2, ResetTimeout: time.Second, SuccessesToClose: 2}, nil,
		WithStateListener(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}))
	b.now = clk.Now

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	if err := b.Execute(ctx, fail); !errors.Is(err, boom) {
		t.Fatalf("expected raw error on first failure, got %v", err)
	}
	if err := b.Execute(ctx, fail); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen when tripping, got %v", err)
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fast-fail while open, got %v", err)
	}

	clk.Advance(time.Second)
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("expected half-open call to pass, got %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after one success, got %v", b.State())
	}
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed, got %v", b.State())
	}

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	b := New("unit", Config{MaxFailures: 1, ResetTimeout: time.Second}, nil)
	b.now = clk.Now

	fail := func(context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), fail)
	clk.Advance(2 * time.Second)
	if err := b.Execute(context.Background(), fail); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after half-open failure, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}
}

func TestBreakerProbeGuardsHalfOpen(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	probeErr := errors.New("probe down")
	var probes int
	b := New("unit", Config{MaxFailures: 1, ResetTimeout: time.Second}, func(context.Context) error {
		probes++
		return probeErr
	})
	b.now = clk.Now

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	clk.Advance(time.Second)

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen when probe fails, got %v", err)
	}
	if called || probes != 1 {
		t.Fatalf("expected op skipped after failed probe (called=%v probes=%d)", called, probes)
	}
}

func TestNewKafkaBreakerFromEnv(t *testing.T) {
	t.Setenv("CB_ENABLED", "true")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "4")
	t.Setenv("CB_KAFKA_SUCCESS_THRESHOLD", "3")
	t.Setenv("CB_KAFKA_OPEN_SECONDS", "0.05")
	t.Setenv("CB_KAFKA_TIMEOUT_MS", "150")
	t.Setenv("CB_KAFKA_BACKOFF_MS", "25")

	kb, err := NewKafkaBreakerFromEnv("env-breaker", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !kb.Enabled() {
		t.Fatalf("expected breaker enabled")
	}
	if kb.failureThreshold != 4 || kb.timeout != 150*time.Millisecond || kb.backoff != 25*time.Millisecond {
		t.Fatalf("unexpected settings %+v", kb)
	}
	if kb.breaker.cfg.SuccessesToClose != 3 {
		t.Fatalf("expected success threshold 3, got %d", kb.breaker.cfg.SuccessesToClose)
	}

	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "zero")
	if _, err := NewKafkaBreakerFromEnv("bad", nil); err == nil {
		t.Fatalf("expected parse error")
	}
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "0")
	if _, err := NewKafkaBreakerFromEnv("bad", nil); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCBKafkaWriterRetryAndStateTransitions(t *testing.T) {
	kb, err := NewKafkaBreaker("writer-breaker", KafkaSettings{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenFor:          50 * time.Millisecond,
		AttemptTimeout:   50 * time.Millisecond,
		Backoff:          10 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stub := &stubKafkaWriter{failuresBeforeSuccess: 2}
	writer := NewCBKafkaWriter(stub, kb)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := writer.WriteMessages(ctx, kafka.Message{Value: []byte("payload")}); err != nil {
		t.Fatalf("unexpected error on write: %v", err)
	}
	if kb.Breaker().State() != HalfOpen {
		t.Fatalf("expected breaker to remain half-open after first success, got %v", kb.Breaker().State())
	}
	if err := writer.WriteMessages(ctx, kafka.Message{Value: []byte("payload")}); err != nil {
		t.Fatalf("second write should succeed, got %v", err)
	}
	if kb.Breaker().State() != Closed {
		t.Fatalf("expected breaker closed after second success, got %v", kb.Breaker().State())
	}
	if stub.calls != 4 {
		t.Fatalf("expected 4 write attempts, got %d", stub.calls)
	}
}

func TestCBKafkaReaderDisabled(t *testing.T) {
	t.Setenv("CB_ENABLED", "false")

	kb, err := NewKafkaBreakerFromEnv("reader-breaker", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kb.Enabled() {
		t.Fatalf("expected breaker disabled")
	}

	msg := kafka.Message{Topic: "campus.readings", Value: []byte("v")}
	reader := &stubKafkaReader{message: msg}
	wrapped := NewCBKafkaReader(reader, kb)

	out, err := wrapped.FetchMessage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader.calls != 1 {
		t.Fatalf("expected single call when breaker disabled, got %d", reader.calls)
	}
	if string(out.Value) != string(msg.Value) {
		t.Fatalf("expected %q, got %q", msg.Value, out.Value)
	}
}

type stubKafkaWriter struct {
	mu                    sync.Mutex
	calls                 int
	failuresBeforeSuccess int
}

func (s *stubKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.calls++
	if s.calls <= s.failuresBeforeSuccess {
		return errors.New("synthetic failure")
	}
	return nil
}

type stubKafkaReader struct {
	mu      sync.Mutex
	calls   int
	message kafka.Message
}

func (s *stubKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return kafka.Message{}, ctx.Err()
	}
	s.calls++
	return s.message, nil
}
