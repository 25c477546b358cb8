// v1
// internal/notify/kafka.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/ogdevsanskar/ecoversa/internal/circuitbreaker"
)

// KafkaConfig configures the Kafka notification publisher.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	QueueSize int
}

type kafkaWriteCloser interface {
	Close() error
}

// Observer receives delivery outcomes, typically a metrics sink.
type Observer func(kind string, err error)

// KafkaPublisher queues notifications and delivers them asynchronously so
// event handling never waits on the broker.
type KafkaPublisher struct {
	cfg      KafkaConfig
	log      *slog.Logger
	writer   circuitbreaker.MessageWriter
	closer   kafkaWriteCloser
	observe  Observer
	queue    chan Notification
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	startOne sync.Once
	stopOnce sync.Once
	started  atomic.Bool
}

const (
	defaultQueueSize  = 256
	notifyBreakerName = "notifications-writer"
)

var (
	errNilLogger  = errors.New("publisher requires a logger")
	errNilWriter  = errors.New("publisher requires a writer")
	errNotStarted = errors.New("notification publisher not started")
	errStopped    = errors.New("notification publisher stopped")
)

// NewKafkaPublisher builds a publisher whose writer is guarded by the
// shared Kafka circuit breaker.
func NewKafkaPublisher(cfg KafkaConfig, breaker *circuitbreaker.KafkaBreaker, observe Observer, log *slog.Logger) (*KafkaPublisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("notifications topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	base := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
	}
	if breaker.Enabled() {
		log.Info("notify_publisher_cb_enabled", slog.String("name", notifyBreakerName))
	} else {
		log.Info("notify_publisher_cb_disabled", slog.String("name", notifyBreakerName))
	}
	return newPublisherWithWriter(cfg, log, circuitbreaker.NewCBKafkaWriter(base, breaker), base, observe)
}

func newPublisherWithWriter(cfg KafkaConfig, log *slog.Logger, writer circuitbreaker.MessageWriter, closer kafkaWriteCloser, observe Observer) (*KafkaPublisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if writer == nil {
		return nil, errNilWriter
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	if observe == nil {
		observe = func(string, error) {}
	}
	return &KafkaPublisher{
		cfg:     cfg,
		log:     log.With(slog.String("component", "notify_publisher")),
		writer:  writer,
		closer:  closer,
		observe: observe,
		queue:   make(chan Notification, size),
	}, nil
}

// Start launches the delivery loop.
func (p *KafkaPublisher) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	p.startOne.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.started.Store(true)
		p.wg.Add(1)
		go p.run()
		p.log.Info("notify_publisher_started", slog.String("topic", p.cfg.Topic))
	})
	if !p.started.Load() {
		return errNotStarted
	}
	return nil
}

// Stop cancels the loop, delivers what is still queued and closes the writer.
func (p *KafkaPublisher) Stop(ctx context.Context) error {
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if p.closer != nil {
			if err := p.closer.Close(); err != nil {
				p.log.Error("notify_publisher_close_err", slog.Any("err", err))
			}
		}
		p.log.Info("notify_publisher_stopped")
	})
	return stopErr
}

// Publish enqueues n for delivery. It blocks only while the queue is full.
func (p *KafkaPublisher) Publish(ctx context.Context, n Notification) error {
	if !p.started.Load() {
		return errNotStarted
	}
	select {
	case p.queue <- n:
		return nil
	case <-ctx.Done():
		p.observe(n.Type, ctx.Err())
		return ctx.Err()
	case <-p.runCtx.Done():
		p.observe(n.Type, errStopped)
		return errStopped
	}
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			p.started.Store(false)
			p.log.Info("notify_publisher_loop_exit")
			return
		case n := <-p.queue:
			p.deliver(p.runCtx, n)
		}
	}
}

// drain delivers the remaining backlog on a fresh context since the run
// context is already cancelled.
func (p *KafkaPublisher) drain() {
	for {
		select {
		case n := <-p.queue:
			p.deliver(context.Background(), n)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) deliver(ctx context.Context, n Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		p.observe(n.Type, err)
		p.log.Error("notify_encode_err", slog.Any("err", err), slog.String("id", n.ID))
		return
	}
	msg := kafka.Message{
		Key:     []byte(n.Recipient),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(n.Type)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.observe(n.Type, err)
		p.log.Error("notify_publish_err", slog.Any("err", fmt.Errorf("deliver %s: %w", n.ID, err)), slog.String("type", n.Type))
		return
	}
	p.observe(n.Type, nil)
	p.log.Info("notify_publish_success", slog.String("id", n.ID), slog.String("type", n.Type), slog.String("recipient", n.Recipient))
}
