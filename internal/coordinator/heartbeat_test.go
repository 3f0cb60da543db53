package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/metrics"
)

type heartbeatFixture struct {
	clock       *clockwork.FakeClock
	coordinator *Coordinator
	heartbeater *Heartbeater
	transport   *httpmock.MockTransport
	metrics     *metrics.Metrics
	logs        *observer.ObservedLogs
}

func newHeartbeatFixture(t *testing.T, peers ...string) *heartbeatFixture {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	clock := clockwork.NewFakeClock()
	m := metrics.NewNop()
	transport := httpmock.NewMockTransport()
	client := cluster.NewClient(time.Second).WithTransport(transport)

	coord := New(Config{
		InstanceID:       "instance-a",
		AdvertiseURL:     "http://a:8080",
		HeartbeatTimeout: 30 * time.Second,
	}, WithClock(clock), WithLogger(logger), WithMetrics(m))

	hb := NewHeartbeater(coord, 10*time.Second, peers,
		WithHeartbeatClient(client),
		WithHeartbeatClock(clock),
		WithHeartbeatLogger(logger),
		WithHeartbeatMetrics(m))

	return &heartbeatFixture{
		clock:       clock,
		coordinator: coord,
		heartbeater: hb,
		transport:   transport,
		metrics:     m,
		logs:        logs,
	}
}

// TestHeartbeatTickAnnounces tests one tick against a healthy peer
func TestHeartbeatTickAnnounces(t *testing.T) {
	f := newHeartbeatFixture(t, "http://b:8080/")

	var received cluster.InstanceAnnouncement
	f.transport.RegisterResponder(http.MethodPost, "http://b:8080/api/cluster/heartbeat",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	f.heartbeater.Tick(context.Background())

	assert.Equal(t, 1, f.transport.GetTotalCallCount())
	assert.Equal(t, "instance-a", received.InstanceID)
	assert.Equal(t, "http://a:8080", received.URL)
	assert.Equal(t, f.clock.Now().UnixMilli(), received.Timestamp)
}

// TestHeartbeatTickSweeps tests that a tick expires silent peers
func TestHeartbeatTickSweeps(t *testing.T) {
	f := newHeartbeatFixture(t)
	f.coordinator.RegisterInstance("instance-b")

	f.clock.Advance(31 * time.Second)
	f.heartbeater.Tick(context.Background())

	assert.Equal(t, []string{"instance-a"}, f.coordinator.ActiveInstances())
}

// TestHeartbeatFailureIsIsolated tests that an unreachable peer is logged and skipped
func TestHeartbeatFailureIsIsolated(t *testing.T) {
	f := newHeartbeatFixture(t, "http://b:8080", "http://c:8080")
	f.transport.RegisterResponder(http.MethodPost, "http://b:8080/api/cluster/heartbeat",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	f.transport.RegisterResponder(http.MethodPost, "http://c:8080/api/cluster/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, ""))

	f.heartbeater.Tick(context.Background())
	f.heartbeater.Tick(context.Background())

	info := f.transport.GetCallCountInfo()
	assert.Equal(t, 2, info["POST http://b:8080/api/cluster/heartbeat"])
	assert.Equal(t, 2, info["POST http://c:8080/api/cluster/heartbeat"])
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HeartbeatFailures.WithLabelValues("http://b:8080")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.HeartbeatFailures.WithLabelValues("http://c:8080")))

	warnings := f.logs.FilterMessage("announcement failed").All()
	require.Len(t, warnings, 2)
	assert.Equal(t, "http://b:8080", warnings[0].ContextMap()["peer"])
}

// TestHeartbeatTargets tests seed and learned peer URLs
func TestHeartbeatTargets(t *testing.T) {
	f := newHeartbeatFixture(t, "http://b:8080", "http://b:8080/", "http://a:8080")

	require.NoError(t, f.coordinator.Announce(cluster.InstanceAnnouncement{InstanceID: "instance-c", URL: "http://c:8080"}))
	f.coordinator.RegisterInstance("instance-d")

	assert.Equal(t, []string{"http://b:8080", "http://c:8080"}, f.heartbeater.Targets())
}

// TestHeartbeatLeave tests the shutdown announcement
func TestHeartbeatLeave(t *testing.T) {
	f := newHeartbeatFixture(t, "http://b:8080")
	f.transport.RegisterResponder(http.MethodPost, "http://b:8080/api/cluster/leave",
		httpmock.NewStringResponder(http.StatusOK, ""))

	f.heartbeater.Leave(context.Background())

	assert.Equal(t, 1, f.transport.GetCallCountInfo()["POST http://b:8080/api/cluster/leave"])
	assert.NotContains(t, f.coordinator.ActiveInstances(), "instance-a")
}

// TestHeartbeatStartStop tests the ticker loop and shutdown
func TestHeartbeatStartStop(t *testing.T) {
	f := newHeartbeatFixture(t, "http://b:8080")
	f.transport.RegisterResponder(http.MethodPost, "http://b:8080/api/cluster/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.heartbeater.Start(ctx)
		close(done)
	}()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	// Immediate tick on start.
	assert.Eventually(t, func() bool {
		return f.transport.GetTotalCallCount() >= 1
	}, time.Second, 5*time.Millisecond)

	f.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool {
		return f.transport.GetTotalCallCount() >= 2
	}, time.Second, 5*time.Millisecond)

	f.heartbeater.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

// TestHeartbeatStopsOnContext tests cancellation through the caller's context
func TestHeartbeatStopsOnContext(t *testing.T) {
	f := newHeartbeatFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.heartbeater.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop ignored context cancellation")
	}
}

// TestHeartbeatStartAfterStop tests that a late Start does not tick
func TestHeartbeatStartAfterStop(t *testing.T) {
	f := newHeartbeatFixture(t, "http://b:8080")
	f.transport.RegisterResponder(http.MethodPost, "http://b:8080/api/cluster/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, ""))

	f.heartbeater.Stop()
	f.heartbeater.Start(context.Background())

	assert.Zero(t, f.transport.GetTotalCallCount())
}
