// Package coordinator implements heartbeat-driven cluster membership and the
// deterministic partitioning of log sources across live instances.
//
// # Overview
//
// Every instance runs the same Coordinator; there is no leader and no
// consensus protocol. Each instance keeps its own view of the live set,
// refreshed by its own heartbeat and by announcements from peers, and
// partitions sources with a pure function of that view. Instances that share
// a view agree on every source's owner without talking to each other.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│               Coordinator                │
//	│  sync.Map  instanceId -> InstanceRecord  │
//	│  heartbeat timeout, scaling flag         │
//	└──────────────────────────────────────────┘
//	      ▲ UpdateHeartbeat        ▲ Announce / UnregisterInstance
//	      │                        │
//	┌─────┴──────┐   POST /api/cluster/heartbeat   ┌────────────┐
//	│ Heartbeater│ ──────────────────────────────▶ │   peers    │
//	└────────────┘                                 └────────────┘
//
// # Membership
//
//   - RegisterInstance / Announce insert or refresh a record with the local clock
//   - UnregisterInstance removes a record immediately, for graceful shutdown
//   - UpdateHeartbeat refreshes the local record and sweeps records older than
//     the heartbeat timeout; nothing else expires records
//
// A dead peer therefore stays visible for at most the heartbeat timeout plus
// one local heartbeat interval.
//
// # Partitioning
//
// Owner(sourceID, sortedInstances) picks sortedInstances[xxhash(sourceID) mod n].
// FilterSourcesForThisInstance keeps the sources whose owner is the local
// instance. With horizontal scaling disabled, or no live instances at all,
// every source is local.
//
// Assignments are stable for a fixed membership snapshot only. Adding or
// removing one instance can move many sources; during churn a source may be
// briefly owned twice or not at all, which heals on the next heartbeat.
//
// # Thread Safety
//
// Coordinator and Heartbeater are safe for concurrent use. Partition
// computation takes a fresh snapshot on each call and never caches it across
// membership changes.
package coordinator
