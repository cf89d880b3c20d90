// Package cache publishes engine status snapshots to Redis so dashboards
// and the CLI can read them without talking to the engine.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"zerodha-strategy/internal/config"
	apperrors "zerodha-strategy/internal/errors"
	"zerodha-strategy/internal/models"
)

// Client is the subset of *goredis.Client the publisher uses.
type Client interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// StatusFunc returns the current engine status.
type StatusFunc func() models.Status

// StatusPublisher periodically writes the status snapshot under one key.
type StatusPublisher struct {
	rdb      Client
	key      string
	ttl      time.Duration
	interval time.Duration
	logger   zerolog.Logger
}

// NewClient connects to the configured Redis instance.
func NewClient(cfg config.CacheConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewStatusPublisher creates a publisher over rdb.
func NewStatusPublisher(rdb Client, cfg config.CacheConfig, logger zerolog.Logger) *StatusPublisher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	key := cfg.Key
	if key == "" {
		key = "zerodha-strategy:status"
	}
	return &StatusPublisher{
		rdb:      rdb,
		key:      key,
		ttl:      cfg.TTL,
		interval: interval,
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

// Ping checks connectivity.
func (p *StatusPublisher) Ping(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.Wrap(err, "redis ping")
	}
	return nil
}

// Publish writes one snapshot. A zero TTL keeps the key until overwritten.
func (p *StatusPublisher) Publish(ctx context.Context, status models.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	if err := p.rdb.Set(ctx, p.key, data, p.ttl).Err(); err != nil {
		return apperrors.Wrapf(err, "redis set %s", p.key)
	}
	return nil
}

// Latest reads the last published snapshot. A missing key returns
// ErrUpstreamData.
func (p *StatusPublisher) Latest(ctx context.Context) (models.Status, error) {
	var status models.Status
	data, err := p.rdb.Get(ctx, p.key).Result()
	if errors.Is(err, goredis.Nil) {
		return status, apperrors.NewDataError("status", p.key, "no snapshot published", apperrors.ErrUpstreamData)
	}
	if err != nil {
		return status, apperrors.Wrapf(err, "redis get %s", p.key)
	}
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return status, apperrors.NewDataError("status", p.key, "malformed snapshot", err)
	}
	return status, nil
}

// Run publishes status every interval until ctx is cancelled, then writes
// a final snapshot. Failures are logged and retried on the next tick.
func (p *StatusPublisher) Run(ctx context.Context, status StatusFunc) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	publish := func(ctx context.Context) {
		if err := p.Publish(ctx, status()); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to publish status snapshot")
		}
	}

	publish(ctx)
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			publish(final)
			cancel()
			return
		case <-ticker.C:
			publish(ctx)
		}
	}
}

// Close closes the underlying client.
func (p *StatusPublisher) Close() error {
	return p.rdb.Close()
}
