package provider

import (
	"context"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/cache"
)

// HistoryProvider serves ordered daily observations with calendar and
// price joins already resolved. Backed by the M5 CSV files or Postgres;
// the forecasting core never sees the difference.
type HistoryProvider interface {
	// Series returns the full history for a key.
	// Returns api.ErrUnknownSeries if the key is not present.
	Series(ctx context.Context, key api.SeriesKey) (*api.Series, error)

	// Keys lists every known series key (for batch runs).
	Keys(ctx context.Context) ([]api.SeriesKey, error)

	// Items lists the distinct item ids.
	Items(ctx context.Context) ([]string, error)

	// Stores lists the distinct store ids.
	Stores(ctx context.Context) ([]string, error)
}

// PriceProvider answers forward price lookups for synthesized forecast
// days. When the price table has no row for the week, the forecaster
// carries the last known price forward instead.
type PriceProvider interface {
	ForwardPrice(key api.SeriesKey, wmYrWk int) (float64, bool)
}

// Cached wraps a HistoryProvider with a size-bounded LRU so repeated
// forecasts of the same series skip the melt/join work. Cached series are
// read-only: histories copy observations into their own storage on load.
type Cached struct {
	inner HistoryProvider
	lru   *cache.LRUWithTTL[string, *api.Series]
}

// NewCached wraps inner with an LRU of the given size and TTL.
func NewCached(inner HistoryProvider, size int, ttl time.Duration) (*Cached, error) {
	lru, err := cache.NewLRUWithTTL[string, *api.Series](size, ttl)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, lru: lru}, nil
}

// Series implements HistoryProvider.
func (c *Cached) Series(ctx context.Context, key api.SeriesKey) (*api.Series, error) {
	if s, ok := c.lru.Get(key.ID()); ok {
		return s, nil
	}
	s, err := c.inner.Series(ctx, key)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key.ID(), s)
	return s, nil
}

// Keys implements HistoryProvider.
func (c *Cached) Keys(ctx context.Context) ([]api.SeriesKey, error) {
	return c.inner.Keys(ctx)
}

// Items implements HistoryProvider.
func (c *Cached) Items(ctx context.Context) ([]string, error) {
	return c.inner.Items(ctx)
}

// Stores implements HistoryProvider.
func (c *Cached) Stores(ctx context.Context) ([]string, error) {
	return c.inner.Stores(ctx)
}

// CacheStats exposes hit/miss counters for the /health payload.
func (c *Cached) CacheStats() cache.Stats {
	return c.lru.Stats()
}
