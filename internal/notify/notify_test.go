// v0
// internal/notify/notify_test.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

type recordingWriter struct {
	ch  chan kafka.Message
	err error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{ch: make(chan kafka.Message, 8)}
}

func (r *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.err != nil {
		return r.err
	}
	for _, msg := range msgs {
		r.ch <- msg
	}
	return nil
}

func (r *recordingWriter) Close() error {
	close(r.ch)
	return nil
}

func (r *recordingWriter) await(t *testing.T) kafka.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}
	return kafka.Message{}
}

type outcomes struct {
	mu   sync.Mutex
	seen []error
	done chan struct{}
}

func newOutcomes() *outcomes { return &outcomes{done: make(chan struct{}, 8)} }

func (o *outcomes) observe(_ string, err error) {
	o.mu.Lock()
	o.seen = append(o.seen, err)
	o.mu.Unlock()
	o.done <- struct{}{}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestForAchievementFormat(t *testing.T) {
	at := time.Date(2024, 7, 10, 8, 0, 0, 0, time.UTC)
	n := ForAchievement(model.Achievement{
		UserID: "u1", Type: model.AchievementEnergySaver, Title: "Energy Saver",
		Description: "Reduced energy consumption by 10%", RewardTokens: 50,
	}, at)
	if n.Type != KindAchievement || n.Recipient != "u1" {
		t.Fatalf("unexpected routing: %+v", n)
	}
	if n.Title != "New Achievement: Energy Saver" {
		t.Fatalf("unexpected title %q", n.Title)
	}
	if n.Data["achievementType"] != "energy_saver" || n.Data["tokens"] != "50" {
		t.Fatalf("unexpected data %v", n.Data)
	}
	if n.ID == "" {
		t.Fatalf("expected an id")
	}
}

func TestForAnomalyFormat(t *testing.T) {
	n := ForAnomaly(model.Anomaly{
		ID: "a1", Building: "library", MetricType: model.MetricWater, Value: 250,
		ExpectedRange: model.Range{Low: 90, High: 110}, Severity: model.SeverityHigh,
	}, time.Now())
	if n.Recipient != AudienceAdmins || n.Severity != "high" {
		t.Fatalf("unexpected routing: %+v", n)
	}
	if n.Title != "Anomaly Detected: library" {
		t.Fatalf("unexpected title %q", n.Title)
	}
	if n.Message != "Unusual water reading: 250" {
		t.Fatalf("unexpected message %q", n.Message)
	}
	if n.Data["anomalyId"] != "a1" || n.Data["expected_high"] != "110" {
		t.Fatalf("unexpected data %v", n.Data)
	}
}

func TestPublisherDeliversKeyedByRecipient(t *testing.T) {
	writer := newRecordingWriter()
	seen := newOutcomes()
	pub, err := newPublisherWithWriter(KafkaConfig{Topic: "campus.notifications"}, discard(), writer, writer, seen.observe)
	if err != nil {
		t.Fatalf("newPublisherWithWriter error: %v", err)
	}
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	n := ForAchievement(model.Achievement{UserID: "u7", Type: model.AchievementWaterGuardian, Title: "Water Guardian", RewardTokens: 30}, time.Now())
	if err := pub.Publish(context.Background(), n); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	msg := writer.await(t)
	if string(msg.Key) != "u7" {
		t.Fatalf("expected key u7, got %q", string(msg.Key))
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != KindAchievement {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	var decoded Notification
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.ID != n.ID || decoded.Title != "New Achievement: Water Guardian" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	<-seen.done
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if seen.seen[0] != nil {
		t.Fatalf("expected success outcome, got %v", seen.seen[0])
	}
}

func TestPublisherReportsWriteFailures(t *testing.T) {
	writer := newRecordingWriter()
	writer.err = errors.New("broker down")
	seen := newOutcomes()
	pub, err := newPublisherWithWriter(KafkaConfig{Topic: "t"}, discard(), writer, writer, seen.observe)
	if err != nil {
		t.Fatalf("newPublisherWithWriter error: %v", err)
	}
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := pub.Publish(context.Background(), ForAnomaly(model.Anomaly{Building: "gym"}, time.Now())); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	select {
	case <-seen.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outcome")
	}
	seen.mu.Lock()
	got := seen.seen[0]
	seen.mu.Unlock()
	if got == nil {
		t.Fatalf("expected failure outcome")
	}
	_ = pub.Stop(context.Background())
}

func TestPublisherRejectsBeforeStart(t *testing.T) {
	writer := newRecordingWriter()
	pub, err := newPublisherWithWriter(KafkaConfig{Topic: "t"}, discard(), writer, writer, nil)
	if err != nil {
		t.Fatalf("newPublisherWithWriter error: %v", err)
	}
	if err := pub.Publish(context.Background(), Notification{}); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted, got %v", err)
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := newPublisherWithWriter(KafkaConfig{}, nil, newRecordingWriter(), nil, nil); err == nil {
		t.Fatalf("expected error for nil logger")
	}
	if _, err := newPublisherWithWriter(KafkaConfig{}, discard(), nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil writer")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, nil, nil, discard()); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	if err := n.Publish(context.Background(), Notification{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
