// Package shard implements the shard router: it owns the shard topology and
// turns a search into a local lookup, a cache hit or a fan-out over shard
// nodes.
//
// # Overview
//
// Every instance runs a Router in front of its local index. With sharding
// disabled the router is a pass-through to that index. With sharding enabled
// it consults the result cache, selects target nodes with the strategy of the
// configured sharding type, queries them in parallel and merges the results.
//
// # Architecture
//
//	                 Search(key)
//	                     │
//	      sharding off ──┼── sharding on
//	           │         │
//	           ▼         ▼
//	     ┌──────────┐  ┌──────────┐ hit
//	     │LocalShard│  │  cache   │─────▶ result
//	     └──────────┘  └──────────┘
//	                        │ miss
//	                        ▼
//	                 RoutingStrategy ──▶ target node URLs
//	                        │
//	         ┌──────────────┼──────────────┐
//	         ▼              ▼              ▼
//	    LocalShard   HTTPShardClient  HTTPShardClient   (errgroup, per-node timeout)
//	         └──────────────┼──────────────┘
//	                        ▼
//	                 Merge + cache.Put (complete results only)
//
// # Topology
//
// ShardConfiguration and NodeRegistry are immutable values swapped together
// through one atomic pointer. Searches load the pointer once and work on that
// snapshot; admin calls (RegisterShardNode, UnregisterShardNode,
// UpdateConfiguration, SetShardingEnabled) build a new snapshot under a
// writer mutex. A reader never sees a configuration from one update paired
// with a registry from another.
//
// # Routing
//
//   - TIME_BASED: time buckets map onto logical shards (bucket mod numberOfShards),
//     shards onto nodes round-robin (see AssignShards); no full time range means all nodes
//   - SOURCE_BASED: a "source:<name>" term selects one node on a consistent hash ring
//   - BALANCED: all nodes
//
// Strategies work on the sorted node URLs, not ids: ids are local labels and
// differ between instances, URLs do not. Router.Index places entries with the
// same strategy (PlacementStrategy), so a query narrowed to some nodes still
// reaches every entry it can match. BALANCED keeps entries where they arrive.
//
// # Failure Handling
//
// Each node gets its own timeout. A node that errors or times out is left out
// of the merge, reported in SearchResult.Failures, logged at warn level and
// counted; the result is marked Partial and is not cached. Provider failures
// on the pass-through path surface as *cluster.SearchExecutionError.
package shard
