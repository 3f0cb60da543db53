// Package cache is the search result cache consulted by the shard router on
// the sharded path.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/metrics"
)

// Config controls the result cache.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxSize    int64         `mapstructure:"max-size" validate:"min=1"`
	Expiration time.Duration `mapstructure:"expiration" validate:"min=1s"`
}

// NewConfig returns the default cache configuration.
func NewConfig() Config {
	return Config{
		Enabled:    true,
		MaxSize:    100,
		Expiration: 5 * time.Minute,
	}
}

// Stats counts cache activity since creation or the last Clear.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Evictions uint64 `json:"evictions"`
}

// ResultCache maps a QueryKey to a merged search result. Entries expire after
// Config.Expiration and at most Config.MaxSize results are kept.
// A disabled cache misses on every Get and drops every Put.
type ResultCache struct {
	config  Config
	store   *ristretto.Cache[string, []cluster.LogEntry]
	logger  *zap.Logger
	metrics *metrics.Metrics

	hits      *atomic.Uint64
	misses    *atomic.Uint64
	sets      *atomic.Uint64
	evictions *atomic.Uint64
}

type Option func(c *ResultCache)

func WithLogger(logger *zap.Logger) Option {
	return func(c *ResultCache) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *ResultCache) {
		c.metrics = m
	}
}

// New creates the cache. The ristretto store is only allocated when enabled.
func New(cfg Config, opts ...Option) (*ResultCache, error) {
	c := &ResultCache{
		config:    cfg,
		logger:    zap.NewNop(),
		metrics:   metrics.NewNop(),
		hits:      atomic.NewUint64(0),
		misses:    atomic.NewUint64(0),
		sets:      atomic.NewUint64(0),
		evictions: atomic.NewUint64(0),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.Named("cache")

	if !cfg.Enabled {
		return c, nil
	}
	if cfg.MaxSize < 1 {
		return nil, errors.Errorf("cache max size must be at least 1, got %d", cfg.MaxSize)
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, []cluster.LogEntry]{
		NumCounters:        cfg.MaxSize * 10,
		MaxCost:            cfg.MaxSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[[]cluster.LogEntry]) {
			c.evictions.Inc()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create result cache")
	}
	c.store = store
	return c, nil
}

// Enabled reports whether the cache stores anything.
func (c *ResultCache) Enabled() bool {
	return c.store != nil
}

// Get returns a copy of the cached result for key.
func (c *ResultCache) Get(key cluster.QueryKey) ([]cluster.LogEntry, bool) {
	if c.store == nil {
		return nil, false
	}
	entries, found := c.store.Get(key.String())
	if !found {
		c.misses.Inc()
		c.metrics.CacheMisses.Inc()
		return nil, false
	}
	c.hits.Inc()
	c.metrics.CacheHits.Inc()
	c.logger.Debug("cache hit", zap.String("key", key.String()), zap.Int("entries", len(entries)))
	return slices.Clone(entries), true
}

// Put stores a copy of entries under key. The write is visible to Get when
// Put returns.
func (c *ResultCache) Put(key cluster.QueryKey, entries []cluster.LogEntry) {
	if c.store == nil {
		return
	}
	if !c.store.SetWithTTL(key.String(), slices.Clone(entries), 1, c.config.Expiration) {
		c.logger.Debug("cache set dropped", zap.String("key", key.String()))
		return
	}
	c.store.Wait()
	c.sets.Inc()
}

// Clear removes every cached result and resets the stats.
func (c *ResultCache) Clear() {
	if c.store != nil {
		c.store.Clear()
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.evictions.Store(0)
	c.logger.Info("search cache cleared")
}

// Stats returns a snapshot of the counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Close releases the ristretto goroutines.
func (c *ResultCache) Close() {
	if c.store != nil {
		c.store.Close()
	}
}
