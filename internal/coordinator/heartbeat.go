package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/metrics"
)

const (
	// HeartbeatPath receives InstanceAnnouncement posts from peers.
	HeartbeatPath = "/api/cluster/heartbeat"
	// LeavePath receives the announcement of an instance shutting down.
	LeavePath = "/api/cluster/leave"

	// DefaultHeartbeatInterval is used when no interval is configured.
	DefaultHeartbeatInterval = 10 * time.Second
)

// Heartbeater drives the Coordinator's heartbeat: on every tick it refreshes
// the local record, sweeps expired peers and announces this instance to its
// peers.
//
// Peers are the configured seed URLs plus every URL learned from incoming
// announcements, so an instance that only knows one seed is announced to the
// whole cluster after a round trip.
//
// A failed announcement is logged and counted; each tick is independent, so
// the next tick simply retries.
type Heartbeater struct {
	coordinator *Coordinator
	client      *cluster.Client
	clock       clockwork.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	ctx         context.Context    // Context for cancellation
	cancel      context.CancelFunc // Cancel function for shutdown
	peers       []string
	interval    time.Duration
	wg          sync.WaitGroup // Wait group for graceful shutdown
	mu          sync.Mutex     // guards stopped against a late Start
	stopped     bool
}

// HeartbeaterOption configures optional Heartbeater collaborators.
type HeartbeaterOption func(h *Heartbeater)

// WithHeartbeatClient replaces the HTTP client used for announcements.
func WithHeartbeatClient(client *cluster.Client) HeartbeaterOption {
	return func(h *Heartbeater) {
		h.client = client
	}
}

// WithHeartbeatClock replaces the wall clock driving the ticker.
func WithHeartbeatClock(clock clockwork.Clock) HeartbeaterOption {
	return func(h *Heartbeater) {
		h.clock = clock
	}
}

// WithHeartbeatLogger sets the logger.
func WithHeartbeatLogger(logger *zap.Logger) HeartbeaterOption {
	return func(h *Heartbeater) {
		h.logger = logger
	}
}

// WithHeartbeatMetrics sets the collectors announcement failures are counted in.
func WithHeartbeatMetrics(m *metrics.Metrics) HeartbeaterOption {
	return func(h *Heartbeater) {
		h.metrics = m
	}
}

// NewHeartbeater creates a heartbeat loop for coordinator.
//
// Parameters:
//   - coordinator: The membership map to refresh and sweep
//   - interval: Time between ticks, DefaultHeartbeatInterval when zero
//   - peers: Seed base URLs, for example "http://10.0.0.2:8080"
//
// Example:
//
//	hb := coordinator.NewHeartbeater(coord, 10*time.Second, peers)
//	go hb.Start(ctx)
//	defer hb.Stop()
func NewHeartbeater(coordinator *Coordinator, interval time.Duration, peers []string, opts ...HeartbeaterOption) *Heartbeater {
	ctx, cancel := context.WithCancel(context.Background())

	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	h := &Heartbeater{
		coordinator: coordinator,
		client:      cluster.NewClient(cluster.DefaultTimeout),
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		metrics:     metrics.NewNop(),
		ctx:         ctx,
		cancel:      cancel,
		peers:       slices.Clone(peers),
		interval:    interval,
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.Named("heartbeat")
	return h
}

// Start runs the heartbeat loop in the current goroutine until ctx or Stop
// cancels it. The first tick happens immediately.
//
// Example:
//
//	go hb.Start(ctx)
func (h *Heartbeater) Start(ctx context.Context) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("heartbeat started", zap.Duration("interval", h.interval))

	h.Tick(ctx)

	for {
		select {
		case <-ticker.Chan():
			h.Tick(ctx)
		case <-ctx.Done():
			h.logger.Info("heartbeat stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.logger.Info("heartbeat stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the loop and waits for it to return.
func (h *Heartbeater) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.logger.Info("heartbeat stopped")
}

// Tick runs one heartbeat: refresh and sweep locally, then announce.
func (h *Heartbeater) Tick(ctx context.Context) {
	h.coordinator.UpdateHeartbeat()
	h.broadcast(ctx, HeartbeatPath)
}

// Leave tells every peer this instance is going away, best effort.
func (h *Heartbeater) Leave(ctx context.Context) {
	h.coordinator.UnregisterInstance(h.coordinator.InstanceID())
	h.broadcast(ctx, LeavePath)
}

// Targets returns the peer base URLs announcements go to: the seeds plus
// every known instance URL, without this instance's own URL.
func (h *Heartbeater) Targets() []string {
	self := normalizeURL(h.coordinator.url)
	seen := make(map[string]bool)
	targets := make([]string, 0, len(h.peers))

	add := func(url string) {
		url = normalizeURL(url)
		if url == "" || url == self || seen[url] {
			return
		}
		seen[url] = true
		targets = append(targets, url)
	}
	for _, peer := range h.peers {
		add(peer)
	}
	for _, record := range h.coordinator.Instances() {
		if record.InstanceID != h.coordinator.InstanceID() {
			add(record.URL)
		}
	}
	return targets
}

func (h *Heartbeater) broadcast(ctx context.Context, path string) {
	announcement := cluster.InstanceAnnouncement{
		InstanceID: h.coordinator.InstanceID(),
		URL:        h.coordinator.url,
		Timestamp:  h.clock.Now().UnixMilli(),
	}

	// Errors are handled per peer; the group only bounds concurrency.
	group := &errgroup.Group{}
	group.SetLimit(8)
	for _, peer := range h.Targets() {
		peer := peer
		group.Go(func() error {
			if err := h.client.PostJSON(ctx, peer+path, announcement, nil); err != nil {
				h.metrics.HeartbeatFailures.WithLabelValues(peer).Inc()
				h.logger.Warn("announcement failed",
					zap.String("peer", peer),
					zap.String("path", path),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()
}

func normalizeURL(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}
