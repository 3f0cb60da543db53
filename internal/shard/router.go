package shard

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/metrics"
	"github.com/dreamware/logsearch/internal/storage"
)

const (
	// DefaultNodeTimeout bounds one node's contribution to a fan-out.
	DefaultNodeTimeout = 10 * time.Second
	// DefaultMaxParallel bounds concurrent node requests per search.
	DefaultMaxParallel = 10
)

// Search paths, used as the "path" metric label.
const (
	pathLocal   = "local"
	pathCached  = "cached"
	pathSharded = "sharded"
)

// ResultCache is the cache consulted on the sharded path.
type ResultCache interface {
	Get(key cluster.QueryKey) ([]cluster.LogEntry, bool)
	Put(key cluster.QueryKey, entries []cluster.LogEntry)
}

// Config holds the constructor-level settings of a Router.
type Config struct {
	// Initial is the configuration to start with. When nil the router starts
	// uninitialized and serves every search locally until UpdateConfiguration.
	Initial      *cluster.ShardConfiguration
	LocalNodeID  string
	LocalNodeURL string
	NodeTimeout  time.Duration
	MaxParallel  int
	TimeBucket   time.Duration
}

// topology is the unit of atomic replacement: configuration and registry
// always change together.
type topology struct {
	config      cluster.ShardConfiguration
	registry    *NodeRegistry
	initialized bool
}

// Router decides, per search, whether to answer from the local index, the
// result cache or a fan-out over shard nodes, and owns the shard topology.
//
// Readers load the current topology with a single atomic read and never
// lock. Admin calls build a new topology from the current one and swap it
// in; a mutex serializes them so concurrent admin calls do not lose updates.
type Router struct {
	topology    *atomic.Pointer[topology]
	mu          sync.Mutex // serializes topology writers
	local       *LocalShard
	cache       ResultCache
	remote      NodeSearcher
	indexer     NodeIndexer
	strategies  map[cluster.ShardingType]RoutingStrategy
	logger      *zap.Logger
	metrics     *metrics.Metrics
	nodeTimeout time.Duration
	maxParallel int
}

// Option configures optional Router collaborators.
type Option func(r *Router)

// WithCache sets the result cache used on the sharded path.
func WithCache(cache ResultCache) Option {
	return func(r *Router) {
		r.cache = cache
	}
}

// WithNodeSearcher replaces the HTTP searcher used for remote nodes.
func WithNodeSearcher(s NodeSearcher) Option {
	return func(r *Router) {
		r.remote = s
	}
}

// WithNodeIndexer replaces the HTTP client used to place entries on remote nodes.
func WithNodeIndexer(i NodeIndexer) Option {
	return func(r *Router) {
		r.indexer = i
	}
}

// WithStrategy replaces the routing strategy of one sharding type.
func WithStrategy(t cluster.ShardingType, s RoutingStrategy) Option {
	return func(r *Router) {
		r.strategies[t] = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics sets the collectors searches are reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter creates a Router over the local provider.
//
// Parameters:
//   - cfg: Local node identity, initial configuration and fan-out limits
//   - provider: The local index
//   - opts: Optional cache, remote searcher and indexer, strategies, logger and metrics
//
// Returns:
//   - The router, or an error if cfg.Initial does not validate
//
// Example:
//
//	initial := cluster.DefaultShardConfiguration()
//	router, err := shard.NewRouter(shard.Config{
//	    Initial:      &initial,
//	    LocalNodeID:  "node1",
//	    LocalNodeURL: "http://localhost:8080",
//	}, index, shard.WithCache(resultCache))
func NewRouter(cfg Config, provider storage.SearchProvider, opts ...Option) (*Router, error) {
	if cfg.LocalNodeID == "" {
		return nil, errors.New("local node id is required")
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = DefaultNodeTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}

	client := NewHTTPShardClient(cluster.NewClient(cfg.NodeTimeout))
	r := &Router{
		local:       NewLocalShard(cfg.LocalNodeID, provider),
		remote:      client,
		indexer:     client,
		strategies:  DefaultStrategies(cfg.TimeBucket),
		logger:      zap.NewNop(),
		metrics:     metrics.NewNop(),
		nodeTimeout: cfg.NodeTimeout,
		maxParallel: cfg.MaxParallel,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.Named("router").With(zap.String("node", cfg.LocalNodeID))

	initial := &topology{
		config:   cluster.DefaultShardConfiguration(),
		registry: NewNodeRegistry(cfg.LocalNodeID, cfg.LocalNodeURL),
	}
	if cfg.Initial != nil {
		if err := cfg.Initial.Validate(); err != nil {
			return nil, err
		}
		initial.config = cfg.Initial.Clone()
		initial.registry = BuildNodeRegistry(cfg.LocalNodeID, cfg.LocalNodeURL, cfg.Initial.ShardNodes, nil)
		initial.initialized = true
	}
	r.topology = atomic.NewPointer(initial)

	r.logger.Info("shard router initialized",
		zap.Bool("initialized", initial.initialized),
		zap.Bool("shardingEnabled", initial.config.ShardingEnabled),
		zap.String("shardingType", string(initial.config.ShardingType)),
		zap.Int("nodes", initial.registry.Len()))
	return r, nil
}

// DistributedSearch runs a search and returns the merged entries, newest first.
// Partial results are returned without error; use Search to inspect them.
func (r *Router) DistributedSearch(ctx context.Context, query string, isRegex bool, startTime, endTime *int64) ([]cluster.LogEntry, error) {
	result, err := r.Search(ctx, cluster.NewQueryKey(query, isRegex, startTime, endTime))
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Search runs key and reports how the result was produced.
//
// Implementation:
//  1. Sharding disabled or router uninitialized: the local provider answers,
//     unmodified, and the cache is never touched
//  2. Cache hit: return it without touching any index
//  3. Otherwise pick target nodes with the strategy of the sharding type, query
//     each at most once in parallel, merge, and cache complete results
//
// A node that fails or times out is left out of the merge and named in
// SearchResult.Failures; the result is then Partial and not cached. If every
// target fails a *cluster.SearchExecutionError is returned.
func (r *Router) Search(ctx context.Context, key cluster.QueryKey) (*cluster.SearchResult, error) {
	topo := r.topology.Load()

	if !topo.initialized || !topo.config.ShardingEnabled {
		r.metrics.Searches.WithLabelValues(pathLocal).Inc()
		entries, err := r.local.Search(ctx, key)
		if err != nil {
			r.logger.Error("local search failed", zap.String("query", key.Query), zap.Error(err))
			return nil, &cluster.SearchExecutionError{NodeID: r.local.ID, Query: key.Query, Err: err}
		}
		return &cluster.SearchResult{Entries: entries}, nil
	}

	if r.cache != nil {
		if entries, found := r.cache.Get(key); found {
			r.metrics.Searches.WithLabelValues(pathCached).Inc()
			r.logger.Debug("search served from cache", zap.String("key", key.String()))
			return &cluster.SearchResult{Entries: entries, Cached: true}, nil
		}
	}

	r.metrics.Searches.WithLabelValues(pathSharded).Inc()
	targets := r.targets(topo, key)
	r.logger.Debug("search routed",
		zap.String("key", key.String()),
		zap.String("shardingType", string(topo.config.ShardingType)),
		zap.Strings("targets", targets))

	perNode, failures := r.fanOut(ctx, topo.registry, targets, key)
	if len(failures) == len(targets) {
		return nil, &cluster.SearchExecutionError{
			Query: key.Query,
			Err: errors.Wrapf(r.failureCause(failures), "all %d shard nodes failed: %s",
				len(targets), (&cluster.SearchResult{Failures: failures}).FailureSummary()),
		}
	}

	result := &cluster.SearchResult{
		Entries:  Merge(perNode...),
		Failures: failures,
		Partial:  len(failures) > 0,
	}
	if result.Partial {
		r.metrics.PartialSearches.Inc()
		r.logger.Warn("partial search result",
			zap.String("query", key.Query),
			zap.Int("failedNodes", len(failures)),
			zap.Int("targets", len(targets)),
			zap.String("failures", result.FailureSummary()))
		return result, nil
	}

	if r.cache != nil {
		r.cache.Put(key, result.Entries)
	}
	return result, nil
}

func (r *Router) targets(topo *topology, key cluster.QueryKey) []string {
	all := topo.registry.IDs()
	strategy, ok := r.strategies[topo.config.ShardingType]
	if !ok {
		return all
	}
	urls := strategy.Targets(key, topo.registry.URLs(), topo.config)
	// Strategies are pluggable; never dispatch twice to one node.
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if id, known := topo.registry.IDForURL(url); known && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return all
	}
	slices.Sort(out)
	return out
}

// fanOut queries every target in parallel, each bounded by the node timeout.
// Results are slotted by target index; a failed slot stays nil.
func (r *Router) fanOut(ctx context.Context, registry *NodeRegistry, targets []string, key cluster.QueryKey) ([][]cluster.LogEntry, []cluster.NodeFailure) {
	results := make([][]cluster.LogEntry, len(targets))
	errs := make([]error, len(targets))

	// Node errors are kept per slot; the group only bounds concurrency.
	group := &errgroup.Group{}
	group.SetLimit(r.maxParallel)
	for i, id := range targets {
		i, id := i, id
		group.Go(func() error {
			nodeCtx, cancel := context.WithTimeout(ctx, r.nodeTimeout)
			defer cancel()

			started := time.Now()
			if id == registry.LocalID() {
				results[i], errs[i] = r.local.Search(nodeCtx, key)
			} else {
				url, _ := registry.URL(id)
				results[i], errs[i] = r.remote.Search(nodeCtx, url, key)
			}
			r.metrics.NodeLatency.WithLabelValues(id).Observe(time.Since(started).Seconds())
			return nil
		})
	}
	_ = group.Wait()

	var failures []cluster.NodeFailure
	for i, err := range errs {
		if err == nil {
			continue
		}
		url, _ := registry.URL(targets[i])
		results[i] = nil
		failures = append(failures, cluster.NodeFailure{NodeID: targets[i], NodeURL: url, Err: err})
		r.metrics.NodeFailures.WithLabelValues(targets[i]).Inc()
		r.logger.Warn("shard node search failed",
			zap.String("target", targets[i]),
			zap.String("url", url),
			zap.Error(err))
	}
	return results, failures
}

// failureCause picks the error an all-failed search reports. The local
// node's error comes first: it carries the provider's own sentinel, such as
// an invalid query, which every remote node rejects the same way.
func (r *Router) failureCause(failures []cluster.NodeFailure) error {
	for _, f := range failures {
		if f.NodeID == r.local.ID {
			return f.Err
		}
	}
	return failures[0].Err
}

// Merge concatenates per-node results, drops entries whose non-empty id was
// already seen, and orders by timestamp, newest first.
func Merge(perNode ...[]cluster.LogEntry) []cluster.LogEntry {
	total := 0
	for _, entries := range perNode {
		total += len(entries)
	}

	seen := make(map[string]bool, total)
	out := make([]cluster.LogEntry, 0, total)
	for _, entries := range perNode {
		for _, e := range entries {
			if e.ID != "" {
				if seen[e.ID] {
					continue
				}
				seen[e.ID] = true
			}
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, func(a, b cluster.LogEntry) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	return out
}

// SearchLocal answers key from the local index only. It serves shard requests
// from other nodes, so it never consults the cache or fans out.
func (r *Router) SearchLocal(ctx context.Context, key cluster.QueryKey) ([]cluster.LogEntry, error) {
	entries, err := r.local.Search(ctx, key)
	if err != nil {
		return nil, &cluster.SearchExecutionError{NodeID: r.local.ID, Query: key.Query, Err: err}
	}
	return entries, nil
}

// Index stores entries on the nodes that own them.
//
// With sharding on, the strategy of the sharding type places each entry
// (TIME_BASED by time bucket, SOURCE_BASED by source) and entries owned by
// another node are sent to it as one shard request per node. Entries the
// strategy does not place, and every entry while sharding is off, go to the
// local index. The first failing node's error is returned; batches for
// other nodes may already be stored.
func (r *Router) Index(ctx context.Context, entries []cluster.LogEntry) error {
	topo := r.topology.Load()
	placer, ok := r.strategies[topo.config.ShardingType].(PlacementStrategy)
	if !topo.initialized || !topo.config.ShardingEnabled || !ok {
		return r.local.Index(ctx, entries)
	}

	urls := topo.registry.URLs()
	batches := make(map[string][]cluster.LogEntry)
	for _, entry := range entries {
		owner := r.local.ID
		if url := placer.Place(entry, urls, topo.config); url != "" {
			if id, known := topo.registry.IDForURL(url); known {
				owner = id
			}
		}
		batches[owner] = append(batches[owner], entry)
	}

	owners := make([]string, 0, len(batches))
	for id := range batches {
		owners = append(owners, id)
	}
	slices.Sort(owners)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.maxParallel)
	for _, id := range owners {
		id, batch := id, batches[id]
		group.Go(func() error {
			if id == r.local.ID {
				return r.local.Index(groupCtx, batch)
			}
			url, _ := topo.registry.URL(id)
			nodeCtx, cancel := context.WithTimeout(groupCtx, r.nodeTimeout)
			defer cancel()
			if err := r.indexer.Index(nodeCtx, url, batch); err != nil {
				r.metrics.NodeFailures.WithLabelValues(id).Inc()
				return errors.Wrapf(err, "index %d entries on %s", len(batch), id)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	r.logger.Debug("entries placed",
		zap.Int("entries", len(entries)),
		zap.Strings("nodes", owners))
	return nil
}

// IndexLocal stores entries in the local index only. It serves shard
// requests from nodes placing entries, so it never forwards.
func (r *Router) IndexLocal(ctx context.Context, entries []cluster.LogEntry) error {
	return r.local.Index(ctx, entries)
}

// LocalStats returns the local node's operation counts.
func (r *Router) LocalStats() LocalStats {
	return r.local.Stats()
}

// LocalNodeID returns the id of the local node.
func (r *Router) LocalNodeID() string {
	return r.local.ID
}

// update applies fn to the current topology and swaps in the result.
func (r *Router) update(fn func(cur *topology) (*topology, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(r.topology.Load())
	if err != nil {
		return err
	}
	r.topology.Store(next)
	return nil
}

// RegisterShardNode adds a remote node and lists its URL in the configuration.
// Registering a known id again moves it to the new URL.
func (r *Router) RegisterShardNode(nodeID, nodeURL string) error {
	err := r.update(func(cur *topology) (*topology, error) {
		registry, err := cur.registry.With(nodeID, nodeURL)
		if err != nil {
			return nil, err
		}
		config := cur.config
		if prev, ok := cur.registry.URL(nodeID); ok && prev != nodeURL {
			config = config.WithoutNode(prev)
		}
		return &topology{
			config:      config.WithNode(nodeURL),
			registry:    registry,
			initialized: cur.initialized,
		}, nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("shard node registered", zap.String("target", nodeID), zap.String("url", nodeURL))
	return nil
}

// UnregisterShardNode removes a remote node. The local node cannot be removed.
func (r *Router) UnregisterShardNode(nodeID string) error {
	err := r.update(func(cur *topology) (*topology, error) {
		registry, err := cur.registry.Without(nodeID)
		if err != nil {
			return nil, err
		}
		url, _ := cur.registry.URL(nodeID)
		return &topology{
			config:      cur.config.WithoutNode(url),
			registry:    registry,
			initialized: cur.initialized,
		}, nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("shard node unregistered", zap.String("target", nodeID))
	return nil
}

// UpdateConfiguration replaces the configuration and rebuilds the registry
// from cfg.ShardNodes plus the local node, in one atomic swap. It also marks
// the router initialized.
func (r *Router) UpdateConfiguration(cfg cluster.ShardConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	err := r.update(func(cur *topology) (*topology, error) {
		local := cur.registry.LocalID()
		localURL, _ := cur.registry.URL(local)
		return &topology{
			config:      cfg.Clone(),
			registry:    BuildNodeRegistry(local, localURL, cfg.ShardNodes, cur.registry),
			initialized: true,
		}, nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("shard configuration updated",
		zap.Bool("shardingEnabled", cfg.ShardingEnabled),
		zap.String("shardingType", string(cfg.ShardingType)),
		zap.Int("numberOfShards", cfg.NumberOfShards),
		zap.Strings("shardNodes", cfg.ShardNodes))
	return nil
}

// GetConfiguration returns a copy of the current configuration.
func (r *Router) GetConfiguration() cluster.ShardConfiguration {
	return r.topology.Load().config.Clone()
}

// IsShardingEnabled reports the flag of the current configuration.
func (r *Router) IsShardingEnabled() bool {
	return r.topology.Load().config.ShardingEnabled
}

// IsInitialized reports whether a configuration has been loaded.
func (r *Router) IsInitialized() bool {
	return r.topology.Load().initialized
}

// SetShardingEnabled flips the flag on the live configuration. There is a
// single flag, so the configuration and the routing decision always agree.
func (r *Router) SetShardingEnabled(enabled bool) {
	_ = r.update(func(cur *topology) (*topology, error) {
		return &topology{
			config:      cur.config.WithShardingEnabled(enabled),
			registry:    cur.registry,
			initialized: cur.initialized,
		}, nil
	})
	r.logger.Info("sharding toggled", zap.Bool("enabled", enabled))
}

// GetShardNodes returns a copy of the node id -> URL mapping.
func (r *Router) GetShardNodes() map[string]string {
	return r.topology.Load().registry.Map()
}

// Nodes returns the registered nodes sorted by id.
func (r *Router) Nodes() []cluster.NodeInfo {
	return r.topology.Load().registry.Nodes()
}

// Assignments returns the logical shard layout over the current nodes.
func (r *Router) Assignments() []ShardAssignment {
	topo := r.topology.Load()
	replicas := 1
	if topo.config.ReplicationEnabled {
		replicas = topo.config.ReplicationFactor
	}
	// Same node order as TIME_BASED placement, so shard s is where bucket
	// data for s lives.
	return AssignShards(topo.config.NumberOfShards, topo.registry.IDsByURL(), replicas)
}
