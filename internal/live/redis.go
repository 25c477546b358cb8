// v0
// internal/live/redis.go
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// Redis keys holding the live dashboard state.
const (
	CurrentKey      = "live-metrics:current"
	CampusTotalsKey = "live-metrics:campus_totals"
	buildingPrefix  = "live-metrics:buildings:"
)

// Update is the message broadcast for every accepted reading.
type Update struct {
	Building    string           `json:"building"`
	MetricType  model.MetricType `json:"metric_type"`
	Value       float64          `json:"value"`
	CampusTotal float64          `json:"campus_total"`
	LastUpdated time.Time        `json:"last_updated"`
}

// backend is the subset of the go-redis client the publisher needs.
type backend interface {
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Publisher mirrors the metric store into Redis hashes and announces each
// update on a pub/sub channel for dashboards.
type Publisher struct {
	rdb     backend
	channel string
	log     *slog.Logger
}

// Options configures Dial.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts Options, log *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis address must not be empty")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newPublisher(rdb, opts.Channel, log)
}

func newPublisher(rdb backend, channel string, log *slog.Logger) (*Publisher, error) {
	if rdb == nil {
		return nil, errors.New("redis client must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "live-metrics"
	}
	return &Publisher{rdb: rdb, channel: channel, log: log.With(slog.String("component", "live"))}, nil
}

// PublishReading stores the latest value of building+metric and the campus
// total, then broadcasts the update.
func (p *Publisher) PublishReading(ctx context.Context, u Update) error {
	if p == nil {
		return nil
	}
	metric := string(u.MetricType)
	stamp := u.LastUpdated.UTC().Format(time.RFC3339Nano)

	if err := p.rdb.HSet(ctx, CurrentKey,
		u.Building+"_"+metric, strconv.FormatFloat(u.Value, 'f', -1, 64),
		"last_updated", stamp,
	).Err(); err != nil {
		return fmt.Errorf("hset current: %w", err)
	}
	if err := p.rdb.HSet(ctx, buildingPrefix+u.Building,
		metric, strconv.FormatFloat(u.Value, 'f', -1, 64),
		"last_updated", stamp,
	).Err(); err != nil {
		return fmt.Errorf("hset building: %w", err)
	}
	if err := p.rdb.HSet(ctx, CampusTotalsKey,
		metric, strconv.FormatFloat(u.CampusTotal, 'f', -1, 64),
		"last_updated", stamp,
	).Err(); err != nil {
		return fmt.Errorf("hset campus totals: %w", err)
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode live update: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish live update: %w", err)
	}
	p.log.Debug("live_metrics_pushed",
		slog.String("building", u.Building),
		slog.String("metric", metric),
		slog.Float64("campus_total", u.CampusTotal),
	)
	return nil
}

// Ping reports whether Redis answers.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}
