// Package cluster holds the value types shared by every part of the log
// search coordination layer and the small JSON client instances use to talk
// to each other.
//
// # Overview
//
// Nothing in this package owns mutable state. The coordinator owns instance
// membership and the shard router owns shard topology; both exchange the
// values defined here:
//
//   - LogEntry: a single log record returned by a search
//   - SourceDescriptor: an ingestible source whose owner is computed, never stored
//   - QueryKey: (query, isRegex, startTime, endTime), the cache and routing key
//   - ShardConfiguration: process-wide sharding settings, handled as an immutable value
//   - InstanceAnnouncement: the heartbeat payload posted between peers
//
// # Error Taxonomy
//
//   - SearchExecutionError: an index provider failed; surfaced, never retried here
//   - MembershipError: a malformed membership request at the HTTP boundary
//   - SearchResult with Partial set: one or more shard nodes failed during
//     fan-out; the caller still gets the data that did arrive
//
// # Communication Protocol
//
// Instances speak JSON over HTTP:
//
//	POST {peer}/api/cluster/heartbeat   InstanceAnnouncement
//	POST {peer}/api/cluster/leave       InstanceAnnouncement
//	GET  {node}/api/logs/search?query=&isRegex=&startTime=&endTime=&isShardRequest=true
//
// Client wraps resty with a per-request timeout; PostJSON and GetJSON use a
// shared default client with DefaultTimeout.
package cluster
