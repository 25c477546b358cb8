// v0
// internal/live/redis_test.go
package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

type fakeRedis struct {
	hashes    map[string]map[string]string
	published map[string][]string
	hsetErr   error
	closed    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]string{}, published: map[string][]string{}}
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *goredis.IntCmd {
	if f.hsetErr != nil {
		return goredis.NewIntResult(0, f.hsetErr)
	}
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return goredis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return goredis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishReadingWritesHashesAndBroadcasts(t *testing.T) {
	fake := newFakeRedis()
	p, err := newPublisher(fake, "", discard())
	require.NoError(t, err)

	at := time.Date(2024, 7, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, p.PublishReading(context.Background(), Update{
		Building: "library", MetricType: model.MetricElectricity, Value: 420.5, CampusTotal: 1200, LastUpdated: at,
	}))

	assert.Equal(t, "420.5", fake.hashes[CurrentKey]["library_electricity"])
	assert.Equal(t, "2024-07-10T08:00:00Z", fake.hashes[CurrentKey]["last_updated"])
	assert.Equal(t, "420.5", fake.hashes["live-metrics:buildings:library"]["electricity"])
	assert.Equal(t, "1200", fake.hashes[CampusTotalsKey]["electricity"])

	msgs := fake.published["live-metrics"]
	require.Len(t, msgs, 1)
	var u Update
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &u))
	assert.Equal(t, "library", u.Building)
	assert.Equal(t, 1200.0, u.CampusTotal)

	require.NoError(t, p.Ping(context.Background()))
	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
}

func TestPublishReadingSurfacesErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.hsetErr = errors.New("READONLY")
	p, err := newPublisher(fake, "campus", discard())
	require.NoError(t, err)

	err = p.PublishReading(context.Background(), Update{Building: "gym", MetricType: model.MetricWater})
	require.Error(t, err)
	assert.Empty(t, fake.published)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.PublishReading(context.Background(), Update{}))
	assert.NoError(t, p.Close())
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), Options{}, discard())
	assert.Error(t, err)
}
