package shard

import (
	"context"

	"go.uber.org/atomic"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/storage"
)

// LocalShard is the local node's view of the index provider.
// It counts operations so the admin API can report per-node activity.
type LocalShard struct {
	Provider storage.SearchProvider // The index backing this node
	ID       string                 // Node id in the shard registry
	stats    *localStats
}

type localStats struct {
	searches *atomic.Uint64
	failures *atomic.Uint64
	indexed  *atomic.Uint64
}

// LocalStats tracks operation counts
type LocalStats struct {
	Searches uint64 `json:"searches"` // Number of searches served
	Failures uint64 `json:"failures"` // Number of searches the provider failed
	Indexed  uint64 `json:"indexed"`  // Number of entries indexed
}

// NewLocalShard wraps provider as node id.
func NewLocalShard(id string, provider storage.SearchProvider) *LocalShard {
	return &LocalShard{
		ID:       id,
		Provider: provider,
		stats: &localStats{
			searches: atomic.NewUint64(0),
			failures: atomic.NewUint64(0),
			indexed:  atomic.NewUint64(0),
		},
	}
}

// Search runs key against the provider.
// Increments search counter for statistics
func (s *LocalShard) Search(ctx context.Context, key cluster.QueryKey) ([]cluster.LogEntry, error) {
	s.stats.searches.Inc()
	entries, err := s.Provider.Search(ctx, key.Query, key.IsRegex, key.StartTime, key.EndTime)
	if err != nil {
		s.stats.failures.Inc()
		return nil, err
	}
	return entries, nil
}

// Index adds entries to the provider.
// Increments indexed counter for statistics
func (s *LocalShard) Index(ctx context.Context, entries []cluster.LogEntry) error {
	if err := s.Provider.IndexLogEntries(ctx, entries); err != nil {
		return err
	}
	s.stats.indexed.Add(uint64(len(entries)))
	return nil
}

// Stats returns current operation statistics
func (s *LocalShard) Stats() LocalStats {
	return LocalStats{
		Searches: s.stats.searches.Load(),
		Failures: s.stats.failures.Load(),
		Indexed:  s.stats.indexed.Load(),
	}
}
