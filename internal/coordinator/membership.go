package coordinator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/metrics"
)

// DefaultHeartbeatTimeout is used when Config.HeartbeatTimeout is not set.
const DefaultHeartbeatTimeout = 30 * time.Second

// Config holds the constructor-level settings of a Coordinator.
type Config struct {
	// InstanceID identifies this process. DefaultInstanceID is used when empty.
	InstanceID string
	// AdvertiseURL is the base URL peers use to reach this instance.
	AdvertiseURL string
	// HeartbeatTimeout is how long an instance may stay silent before the
	// sweep in UpdateHeartbeat removes it.
	HeartbeatTimeout time.Duration
	// HorizontalScalingEnabled turns source partitioning on. When off, every
	// source is owned locally.
	HorizontalScalingEnabled bool
}

// InstanceRecord is one live instance as seen by this process.
type InstanceRecord struct {
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	InstanceID    string    `json:"instanceId"`
	URL           string    `json:"url,omitempty"`
}

// Coordinator tracks live instances through heartbeats and decides which
// log sources this instance is responsible for.
//
// There is no central coordinator: each instance runs its own Coordinator,
// fed by its own heartbeat tick and by announcements from peers. As long as
// all instances see the same membership snapshot they compute the same
// source-to-owner mapping, so every source is ingested exactly once.
//
// Thread Safety:
// The membership map is a sync.Map, so registrations for different instances
// never contend. Partitioning works on a sorted snapshot taken per call.
type Coordinator struct {
	instances sync.Map // instance id -> InstanceRecord
	scaling   *atomic.Bool
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	id        string
	url       string
	timeout   time.Duration
}

// Option configures optional Coordinator collaborators.
type Option func(c *Coordinator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the collectors membership changes are reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator and registers the local instance.
//
// Parameters:
//   - cfg: Instance id, advertise URL, heartbeat timeout and scaling flag
//   - opts: Optional clock, logger and metrics
//
// Returns:
//   - A Coordinator whose ActiveInstances already contains the local instance
//
// Example:
//
//	coord := coordinator.New(coordinator.Config{
//	    InstanceID:               "instance-a",
//	    HeartbeatTimeout:         30 * time.Second,
//	    HorizontalScalingEnabled: true,
//	}, coordinator.WithLogger(logger))
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		scaling: atomic.NewBool(cfg.HorizontalScalingEnabled),
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		metrics: metrics.NewNop(),
		id:      cfg.InstanceID,
		url:     cfg.AdvertiseURL,
		timeout: cfg.HeartbeatTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	if c.id == "" {
		c.id = DefaultInstanceID()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultHeartbeatTimeout
	}
	c.logger = c.logger.Named("coordinator").With(zap.String("instance", c.id))

	c.store(c.id, c.url)
	c.logger.Info("coordinator initialized",
		zap.Bool("horizontalScaling", cfg.HorizontalScalingEnabled),
		zap.Duration("heartbeatTimeout", c.timeout))
	return c
}

// DefaultInstanceID returns "<hostname>-<8 hex chars>", unique per process.
func DefaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// InstanceID returns the local instance id.
func (c *Coordinator) InstanceID() string {
	return c.id
}

// RegisterInstance inserts id, or refreshes its heartbeat to now.
// Concurrent registrations of the same id are last-writer-wins.
func (c *Coordinator) RegisterInstance(id string) {
	c.register(id, "")
}

// Announce registers a peer from its heartbeat payload, keeping its URL.
// It is the only membership call that can fail, and only for an empty id.
func (c *Coordinator) Announce(a cluster.InstanceAnnouncement) error {
	if a.InstanceID == "" {
		return &cluster.MembershipError{Reason: "empty instance id"}
	}
	c.register(a.InstanceID, a.URL)
	return nil
}

func (c *Coordinator) register(id, url string) {
	if url == "" {
		if prev, ok := c.instances.Load(id); ok {
			url = prev.(InstanceRecord).URL
		}
	}
	if _, loaded := c.store(id, url); !loaded {
		c.logger.Info("instance joined", zap.String("peer", id), zap.String("url", url))
		c.metrics.ActiveInstances.Set(float64(c.ActiveInstanceCount()))
	}
}

func (c *Coordinator) store(id, url string) (InstanceRecord, bool) {
	record := InstanceRecord{InstanceID: id, URL: url, LastHeartbeat: c.clock.Now()}
	_, loaded := c.instances.Swap(id, record)
	return record, loaded
}

// UnregisterInstance removes id immediately. It is used on graceful
// shutdown, when waiting for the heartbeat timeout would leave the
// instance's sources unowned for too long.
func (c *Coordinator) UnregisterInstance(id string) {
	if _, loaded := c.instances.LoadAndDelete(id); loaded {
		c.logger.Info("instance left", zap.String("peer", id))
		c.metrics.ActiveInstances.Set(float64(c.ActiveInstanceCount()))
	}
}

// UpdateHeartbeat refreshes the local instance and sweeps expired peers.
//
// This is the only place expiry is enforced, so a dead peer stays in the
// membership set for at most HeartbeatTimeout plus one local heartbeat
// interval.
//
// Implementation:
//  1. Store the local record with the current time
//  2. Range over the map and drop records older than HeartbeatTimeout
//  3. CompareAndDelete so a refresh racing with the sweep is never lost
func (c *Coordinator) UpdateHeartbeat() {
	c.store(c.id, c.url)

	now := c.clock.Now()
	expired := 0
	c.instances.Range(func(key, value any) bool {
		record := value.(InstanceRecord)
		if now.Sub(record.LastHeartbeat) > c.timeout {
			if c.instances.CompareAndDelete(key, value) {
				expired++
				c.logger.Info("instance expired",
					zap.String("peer", record.InstanceID),
					zap.Time("lastHeartbeat", record.LastHeartbeat))
			}
		}
		return true
	})

	if expired > 0 {
		c.metrics.InstancesExpired.Add(float64(expired))
	}
	c.metrics.ActiveInstances.Set(float64(c.ActiveInstanceCount()))
}

// ActiveInstances returns the ids of all live instances, sorted.
func (c *Coordinator) ActiveInstances() []string {
	ids := make([]string, 0)
	c.instances.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}

// Instances returns every live record, sorted by id.
func (c *Coordinator) Instances() []InstanceRecord {
	records := make([]InstanceRecord, 0)
	c.instances.Range(func(_, value any) bool {
		records = append(records, value.(InstanceRecord))
		return true
	})
	slices.SortFunc(records, func(a, b InstanceRecord) int {
		switch {
		case a.InstanceID < b.InstanceID:
			return -1
		case a.InstanceID > b.InstanceID:
			return 1
		default:
			return 0
		}
	})
	return records
}

// ActiveInstanceCount returns the number of live instances.
func (c *Coordinator) ActiveInstanceCount() int {
	n := 0
	c.instances.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// SetHorizontalScalingEnabled turns source partitioning on or off.
// Membership keeps being tracked either way.
func (c *Coordinator) SetHorizontalScalingEnabled(enabled bool) {
	if c.scaling.Swap(enabled) != enabled {
		c.logger.Info("horizontal scaling toggled", zap.Bool("enabled", enabled))
	}
}

// IsHorizontalScalingEnabled reports whether sources are partitioned.
func (c *Coordinator) IsHorizontalScalingEnabled() bool {
	return c.scaling.Load()
}

// FilterSourcesForThisInstance returns the sources owned by this instance.
//
// With scaling disabled, or an empty membership snapshot, every source is
// local and the input is returned unchanged. Otherwise each source goes to
// exactly one instance of the snapshot, see Owner.
//
// Parameters:
//   - sources: Candidate sources, typically everything configured for ingestion
//
// Returns:
//   - The subset this instance should poll, in input order
//
// Example:
//
//	for _, src := range coord.FilterSourcesForThisInstance(all) {
//	    scheduler.Poll(src)
//	}
func (c *Coordinator) FilterSourcesForThisInstance(sources []cluster.SourceDescriptor) []cluster.SourceDescriptor {
	if !c.IsHorizontalScalingEnabled() {
		return sources
	}
	members := c.ActiveInstances()
	if len(members) == 0 {
		return sources
	}

	owned := make([]cluster.SourceDescriptor, 0, len(sources)/len(members)+1)
	for _, source := range sources {
		if Owner(source.ID, members) == c.id {
			owned = append(owned, source)
		}
	}
	c.logger.Debug("sources filtered",
		zap.Int("total", len(sources)),
		zap.Int("owned", len(owned)),
		zap.Int("instances", len(members)))
	return owned
}

// OwnerOf returns the instance that owns sourceID under the current snapshot.
func (c *Coordinator) OwnerOf(sourceID string) string {
	if !c.IsHorizontalScalingEnabled() {
		return c.id
	}
	owner := Owner(sourceID, c.ActiveInstances())
	if owner == "" {
		return c.id
	}
	return owner
}

// ShouldProcessSource reports whether this instance owns sourceID.
func (c *Coordinator) ShouldProcessSource(sourceID string) bool {
	return c.OwnerOf(sourceID) == c.id
}

// Owner maps sourceID onto one of sortedInstances: the instance at index
// xxhash(sourceID) mod len(sortedInstances). It returns "" for an empty set.
//
// Owner is a pure function; callers must pass the ids sorted so that every
// instance computes the same answer.
func Owner(sourceID string, sortedInstances []string) string {
	if len(sortedInstances) == 0 {
		return ""
	}
	idx := xxhash.Sum64String(sourceID) % uint64(len(sortedInstances))
	return sortedInstances[idx]
}
