package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zerodha-strategy/internal/models"
)

// SyncDataType represents the type of data being synced.
type SyncDataType string

const (
	SyncTypeCandles     SyncDataType = "candles"
	SyncTypeInstruments SyncDataType = "instruments"
)

// DataFreshness represents the freshness of cached data.
type DataFreshness struct {
	Key         string
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// FetchFunc loads candles for token from the upstream source.
type FetchFunc func(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error)

// CachedHistory serves historical candles from the cache while it is fresh
// and falls back to the cache when the upstream fetch fails.
type CachedHistory struct {
	store  DataStore
	maxAge time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewCachedHistory creates a cache-first history provider. Cached candles
// older than maxAge are refetched.
func NewCachedHistory(store DataStore, maxAge time.Duration, logger zerolog.Logger) *CachedHistory {
	return &CachedHistory{
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

func candleSyncKey(token uint32, interval time.Duration) string {
	return fmt.Sprintf("%s:%d:%d", SyncTypeCandles, token, int64(interval/time.Second))
}

// Freshness reports how recently candles for token were synced.
func (c *CachedHistory) Freshness(token uint32, interval time.Duration) DataFreshness {
	key := candleSyncKey(token, interval)
	last := c.store.GetLastSync(key)
	age := c.now().Sub(last)
	return DataFreshness{
		Key:         key,
		LastUpdated: last,
		IsFresh:     !last.IsZero() && age < c.maxAge,
		Age:         age,
	}
}

// GetCandles returns candles for [from, to]. The bool reports whether the
// result came from the cache.
func (c *CachedHistory) GetCandles(ctx context.Context, token uint32, interval time.Duration, from, to time.Time, fetch FetchFunc) ([]models.Candle, bool, error) {
	cached, err := c.store.GetCandles(ctx, token, interval, from, to)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached candles: %w", err)
	}

	if c.Freshness(token, interval).IsFresh && len(cached) > 0 {
		return cached, true, nil
	}

	candles, err := fetch(ctx, token, interval, from, to)
	if err != nil {
		if len(cached) > 0 {
			c.logger.Warn().Err(err).Uint32("token", token).Int("cached", len(cached)).Msg("history fetch failed, serving stale cache")
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("failed to fetch candles and no cache available: %w", err)
	}

	if err := c.store.SaveCandles(ctx, token, interval, candles); err != nil {
		c.logger.Warn().Err(err).Uint32("token", token).Msg("failed to cache candles")
		return candles, false, nil
	}
	if err := c.store.SetLastSync(candleSyncKey(token, interval), c.now()); err != nil {
		c.logger.Warn().Err(err).Uint32("token", token).Msg("failed to mark candles synced")
	}
	return candles, false, nil
}

// CachedSource is a historical candle source backed by the cache.
type CachedSource struct {
	history *CachedHistory
	fetch   FetchFunc
}

// Source returns a source that consults the cache before calling fetch.
func (c *CachedHistory) Source(fetch FetchFunc) *CachedSource {
	return &CachedSource{history: c, fetch: fetch}
}

// GetHistorical returns cached or freshly fetched candles for token.
func (s *CachedSource) GetHistorical(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error) {
	candles, _, err := s.history.GetCandles(ctx, token, interval, from, to, s.fetch)
	return candles, err
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return "Never synced"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("Updated %s", ageStr)
	}
	return fmt.Sprintf("Stale - updated %s", ageStr)
}
