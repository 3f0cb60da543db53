package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/metrics"
)

func newTestCache(t *testing.T, cfg Config, opts ...Option) *ResultCache {
	t.Helper()
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestResultCache_PutGet(t *testing.T) {
	t.Parallel()

	m := metrics.NewNop()
	c := newTestCache(t, NewConfig(), WithMetrics(m))
	key := cluster.NewQueryKey("error", false, cluster.Int64(1), cluster.Int64(2))
	entries := []cluster.LogEntry{{ID: "1", Message: "error"}}

	_, found := c.Get(key)
	assert.False(t, found)

	c.Put(key, entries)
	got, found := c.Get(key)
	require.True(t, found)
	assert.Equal(t, entries, got)

	// Same string form, different pointers.
	same := cluster.NewQueryKey("error", false, cluster.Int64(1), cluster.Int64(2))
	_, found = c.Get(same)
	assert.True(t, found)

	// isRegex is part of the key.
	_, found = c.Get(cluster.NewQueryKey("error", true, cluster.Int64(1), cluster.Int64(2)))
	assert.False(t, found)

	assert.Equal(t, Stats{Hits: 2, Misses: 2, Sets: 1}, c.Stats())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
}

func TestResultCache_MissingBoundIsNotZero(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, NewConfig())
	open := cluster.NewQueryKey("boom", false, nil, nil)
	zero := cluster.NewQueryKey("boom", false, cluster.Int64(0), cluster.Int64(0))
	startOnly := cluster.NewQueryKey("boom", false, cluster.Int64(0), nil)

	c.Put(open, []cluster.LogEntry{{ID: "e1", Timestamp: 5000}})

	_, found := c.Get(zero)
	assert.False(t, found, "a range ending at 0 must not hit the open-ended result")
	_, found = c.Get(startOnly)
	assert.False(t, found)

	c.Put(zero, []cluster.LogEntry{})
	got, found := c.Get(open)
	require.True(t, found)
	assert.Equal(t, []cluster.LogEntry{{ID: "e1", Timestamp: 5000}}, got)
}

func TestResultCache_CopiesEntries(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, NewConfig())
	key := cluster.NewQueryKey("x", false, nil, nil)
	entries := []cluster.LogEntry{{ID: "1"}, {ID: "2"}}

	c.Put(key, entries)
	entries[0].ID = "changed by caller"

	got, found := c.Get(key)
	require.True(t, found)
	assert.Equal(t, "1", got[0].ID)

	got[1].ID = "changed by reader"
	again, _ := c.Get(key)
	assert.Equal(t, []cluster.LogEntry{{ID: "1"}, {ID: "2"}}, again)
}

func TestResultCache_Expiration(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Expiration = 50 * time.Millisecond
	c := newTestCache(t, cfg)
	key := cluster.NewQueryKey("slow", false, nil, nil)

	c.Put(key, []cluster.LogEntry{{ID: "1"}})
	_, found := c.Get(key)
	require.True(t, found)

	assert.Eventually(t, func() bool {
		_, found := c.Get(key)
		return !found
	}, 2*time.Second, 20*time.Millisecond)
}

func TestResultCache_Clear(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, NewConfig())
	key := cluster.NewQueryKey("x", false, nil, nil)
	c.Put(key, []cluster.LogEntry{{ID: "1"}})
	_, _ = c.Get(key)

	c.Clear()

	assert.Equal(t, Stats{}, c.Stats())
	_, found := c.Get(key)
	assert.False(t, found)
}

func TestResultCache_Disabled(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Enabled = false
	c := newTestCache(t, cfg)
	key := cluster.NewQueryKey("x", false, nil, nil)

	assert.False(t, c.Enabled())
	c.Put(key, []cluster.LogEntry{{ID: "1"}})
	_, found := c.Get(key)
	assert.False(t, found)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestResultCache_InvalidSize(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.MaxSize = 0
	_, err := New(cfg)
	assert.Error(t, err)
}
