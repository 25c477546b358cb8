// v0
// internal/ingest/mqtt.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ogdevsanskar/ecoversa/internal/metrics"
)

// MQTTConfig configures the sensor subscription.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	// HandleTimeout bounds the processing of a single message.
	HandleTimeout time.Duration
}

// mqttClient is the subset of mqtt.Client the subscriber relies on.
type mqttClient interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Subscriber feeds readings published by campus sensors over MQTT. Topics
// follow campus/<building>/<metric> and fill in fields the payload omits.
type Subscriber struct {
	cfg     MQTTConfig
	client  mqttClient
	handle  ReadingFunc
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber builds a subscriber with an auto-reconnecting paho client.
func NewSubscriber(cfg MQTTConfig, handle ReadingFunc, m *metrics.Metrics, log *slog.Logger) (*Subscriber, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker must not be empty")
	}
	clientID := cfg.ClientID
	if strings.TrimSpace(clientID) == "" {
		clientID = "ecoversa-engine"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(10 * time.Second)
	return newSubscriberWithClient(cfg, mqtt.NewClient(opts), handle, m, log)
}

func newSubscriberWithClient(cfg MQTTConfig, client mqttClient, handle ReadingFunc, m *metrics.Metrics, log *slog.Logger) (*Subscriber, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if client == nil {
		return nil, errors.New("mqtt client must not be nil")
	}
	if handle == nil {
		return nil, errors.New("reading handler must not be nil")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "campus/+/+"
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 10 * time.Second
	}
	return &Subscriber{
		cfg:     cfg,
		client:  client,
		handle:  handle,
		metrics: m,
		log:     log.With(slog.String("component", "mqtt"), slog.String("topic", cfg.Topic)),
		now:     time.Now,
	}, nil
}

// Start connects and subscribes. Message handling uses contexts derived
// from ctx, so cancelling it stops in-flight work.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if tok := s.client.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if tok := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage); tok.Wait() && tok.Error() != nil {
		s.cancel()
		s.cancel = nil
		s.client.Disconnect(250)
		return fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, tok.Error())
	}
	s.log.Info("mqtt_subscribed", slog.String("broker", s.cfg.Broker))
	return nil
}

// Stop unsubscribes and disconnects. It is safe to call more than once.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	if tok := s.client.Unsubscribe(s.cfg.Topic); tok.WaitTimeout(2*time.Second) && tok.Error() != nil {
		s.log.Warn("mqtt_unsubscribe_error", slog.Any("err", tok.Error()))
	}
	s.client.Disconnect(250)
	s.cancel()
	s.cancel = nil
	s.log.Info("mqtt_stopped")
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		return
	}
	_ = s.handleMessage(parent, msg.Topic(), msg.Payload())
}

// handleMessage decodes one payload and hands it to the reading func.
// paho gives no redelivery hook, so failures are logged and counted.
func (s *Subscriber) handleMessage(parent context.Context, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.HandleTimeout)
	defer cancel()

	r, err := DecodeReading(payload, HintFromTopic(topic), s.now())
	if err != nil {
		s.metrics.DecodeDrop("mqtt", "invalid")
		s.log.Warn("mqtt_message_dropped", slog.String("mqttTopic", topic), slog.Any("err", err))
		return err
	}
	if err := s.handle(ctx, r); err != nil {
		if Permanent(err) {
			s.metrics.DecodeDrop("mqtt", "invalid")
		}
		s.log.Error("mqtt_handle_error", slog.String("mqttTopic", topic), slog.Any("err", err))
		return err
	}
	return nil
}

// HintFromTopic extracts building and metric from campus/<building>/<metric>.
func HintFromTopic(topic string) Hint {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) != 3 {
		return Hint{}
	}
	return Hint{Building: parts[1], MetricType: parts[2]}
}
