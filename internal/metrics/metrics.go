// Package metrics holds the Prometheus collectors shared by the coordinator,
// the shard router and the result cache.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "logsearch"

const (
	MetricActiveInstances   = "active_instances"
	MetricInstancesExpired  = "instances_expired_total"
	MetricHeartbeatFailures = "heartbeat_announce_failures_total"
	MetricSearches          = "searches_total"
	MetricPartialSearches   = "partial_searches_total"
	MetricNodeFailures      = "shard_node_failures_total"
	MetricNodeLatency       = "shard_node_search_seconds"
	MetricCacheHits         = "search_cache_hits_total"
	MetricCacheMisses       = "search_cache_misses_total"
)

// Metrics is the set of collectors exported by one process.
type Metrics struct {
	ActiveInstances   prometheus.Gauge
	InstancesExpired  prometheus.Counter
	HeartbeatFailures *prometheus.CounterVec // peer
	Searches          *prometheus.CounterVec // path: local, cached, sharded
	PartialSearches   prometheus.Counter
	NodeFailures      *prometheus.CounterVec // node
	NodeLatency       *prometheus.HistogramVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricActiveInstances,
			Help:      "Instances currently considered live by this instance.",
		}),
		InstancesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricInstancesExpired,
			Help:      "Instances removed by the heartbeat sweep.",
		}),
		HeartbeatFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricHeartbeatFailures,
			Help:      "Heartbeat announcements that could not be delivered.",
		}, []string{"peer"}),
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSearches,
			Help:      "Searches handled, by path.",
		}, []string{"path"}),
		PartialSearches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricPartialSearches,
			Help:      "Sharded searches that returned partial results.",
		}),
		NodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricNodeFailures,
			Help:      "Shard node dispatch failures during fan-out.",
		}, []string{"node"}),
		NodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricNodeLatency,
			Help:      "Per-node search latency during fan-out.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCacheHits,
			Help:      "Search result cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCacheMisses,
			Help:      "Search result cache misses.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveInstances,
			m.InstancesExpired,
			m.HeartbeatFailures,
			m.Searches,
			m.PartialSearches,
			m.NodeFailures,
			m.NodeLatency,
			m.CacheHits,
			m.CacheMisses,
		)
	}
	return m
}

// NewNop returns unregistered collectors, for components built without metrics.
func NewNop() *Metrics {
	return New(nil)
}
