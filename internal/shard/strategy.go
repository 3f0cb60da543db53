package shard

import (
	"strings"
	"time"

	"github.com/lafikl/consistent"
	"golang.org/x/exp/slices"

	"github.com/dreamware/logsearch/internal/cluster"
)

// DefaultTimeBucket is the TIME_BASED bucket width when none is configured.
const DefaultTimeBucket = time.Hour

// RoutingStrategy maps a query onto the shard nodes that must see it.
//
// nodes is the sorted URL list of the current registry: every instance sees
// the same list for the same cluster, so every instance routes a query the
// same way. The result is a deterministic subset of nodes; an empty result
// means "all nodes".
type RoutingStrategy interface {
	Targets(key cluster.QueryKey, nodes []string, cfg cluster.ShardConfiguration) []string
}

// PlacementStrategy is implemented by routing strategies that also decide
// where an entry is stored, so a query routed by Targets finds every entry
// it matches. Place returns the node owning entry, or "" when any node may
// hold it.
type PlacementStrategy interface {
	Place(entry cluster.LogEntry, nodes []string, cfg cluster.ShardConfiguration) string
}

// DefaultStrategies returns the strategy used for each sharding type.
func DefaultStrategies(bucket time.Duration) map[cluster.ShardingType]RoutingStrategy {
	return map[cluster.ShardingType]RoutingStrategy{
		cluster.ShardingTimeBased:   TimeStrategy{Bucket: bucket},
		cluster.ShardingSourceBased: SourceStrategy{},
		cluster.ShardingBalanced:    BalancedStrategy{},
	}
}

// TimeStrategy routes by time bucket.
//
// Timestamps are cut into buckets of width Bucket; bucket b lives on logical
// shard b mod NumberOfShards, and shard s on node nodes[s mod len(nodes)].
// A query without both time bounds may touch any bucket and goes to all nodes.
type TimeStrategy struct {
	Bucket time.Duration
}

func (s TimeStrategy) Targets(key cluster.QueryKey, nodes []string, cfg cluster.ShardConfiguration) []string {
	if !key.HasTimeRange() || cfg.NumberOfShards < 1 || len(nodes) == 0 {
		return slices.Clone(nodes)
	}
	start, end := *key.StartTime, *key.EndTime
	if start > end {
		return slices.Clone(nodes)
	}

	width := s.width()
	first, last := floorDiv(start, width), floorDiv(end, width)
	shards := int64(cfg.NumberOfShards)
	// last-first can exceed MaxInt64 for a 1ms bucket over the full range.
	span := uint64(last) - uint64(first)
	if span >= uint64(shards)-1 {
		// Every shard is covered.
		return s.nodesForShards(allShards(cfg.NumberOfShards), nodes)
	}

	ids := make([]int, 0, span+1)
	for i := uint64(0); i <= span; i++ {
		ids = append(ids, int(mod(first+int64(i), shards)))
	}
	return s.nodesForShards(ids, nodes)
}

// Place returns the node hosting the shard of the entry's time bucket.
func (s TimeStrategy) Place(entry cluster.LogEntry, nodes []string, cfg cluster.ShardConfiguration) string {
	if cfg.NumberOfShards < 1 || len(nodes) == 0 {
		return ""
	}
	bucket := floorDiv(entry.Timestamp, s.width())
	return PrimaryNode(int(mod(bucket, int64(cfg.NumberOfShards))), nodes)
}

func (s TimeStrategy) width() int64 {
	if width := s.Bucket.Milliseconds(); width > 0 {
		return width
	}
	return DefaultTimeBucket.Milliseconds()
}

func (s TimeStrategy) nodesForShards(shardIDs []int, nodes []string) []string {
	out := make([]string, 0, len(nodes))
	for _, id := range shardIDs {
		node := PrimaryNode(id, nodes)
		if !slices.Contains(out, node) {
			out = append(out, node)
		}
	}
	slices.Sort(out)
	return out
}

// SourceStrategy routes a query naming a source ("source:nginx") to the
// node owning that source on a consistent hash ring over the nodes, and
// stores each entry on the owner of its source. Sources compare
// case-insensitively. Queries without a source term go to all nodes.
type SourceStrategy struct{}

func (SourceStrategy) Targets(key cluster.QueryKey, nodes []string, _ cluster.ShardConfiguration) []string {
	source, ok := key.SourceTerm()
	if !ok {
		return slices.Clone(nodes)
	}
	owner := ringOwner(source, nodes)
	if owner == "" {
		return slices.Clone(nodes)
	}
	return []string{owner}
}

// Place returns the ring owner of the entry's source. Entries without a
// source stay where they are received; only unfiltered queries find them.
func (SourceStrategy) Place(entry cluster.LogEntry, nodes []string, _ cluster.ShardConfiguration) string {
	if entry.Source == "" {
		return ""
	}
	return ringOwner(strings.ToLower(entry.Source), nodes)
}

func ringOwner(source string, nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}
	ring := consistent.New()
	for _, node := range nodes {
		ring.Add(node)
	}
	owner, err := ring.Get(source)
	if err != nil {
		return ""
	}
	return owner
}

// BalancedStrategy sends every query to every node. Entries stay on the
// node that receives them.
type BalancedStrategy struct{}

func (BalancedStrategy) Targets(_ cluster.QueryKey, nodes []string, _ cluster.ShardConfiguration) []string {
	return slices.Clone(nodes)
}

func allShards(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
