package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/config"
	"github.com/dreamware/logsearch/internal/coordinator"
)

func testConfig() config.Config {
	cfg := config.NewConfig()
	cfg.HorizontalScaling.InstanceID = "instance-a"
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*server, *httptest.Server) {
	t.Helper()
	s, err := newServer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		s.cache.Close()
	})
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

// TestHandleHealth tests the health endpoint
func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, raw)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "instance-a", body["instance"])
	assert.Equal(t, "node1", body["node"])
}

// TestHandleIngestAndSearch tests the local search path
func TestHandleIngestAndSearch(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/logs", []cluster.LogEntry{
		{Message: "disk full", Level: "ERROR", Source: "nginx", Timestamp: 100},
		{ID: "fixed", Message: "request served", Level: "INFO", Source: "nginx", Timestamp: 200},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=*", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]cluster.LogEntry](t, raw)
	require.Len(t, entries, 2)
	assert.Equal(t, "fixed", entries[0].ID)
	assert.NotEmpty(t, entries[1].ID, "ingest assigns missing ids")
	assert.Empty(t, resp.Header.Get(headerCached))

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=level:ERROR&startTime=50&endTime=150", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries = decode[[]cluster.LogEntry](t, raw)
	require.Len(t, entries, 1)
	assert.Equal(t, "disk full", entries[0].Message)
}

// TestHandleSearchErrors tests rejected search requests
func TestHandleSearchErrors(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"bad start time", "query=x&startTime=yesterday", http.StatusBadRequest},
		{"bad end time", "query=x&endTime=1.5", http.StatusBadRequest},
		{"bad regex flag", "query=x&isRegex=maybe", http.StatusBadRequest},
		{"invalid regex", "query=%5B&isRegex=true", http.StatusBadRequest},
		{"invalid regex on shard request", "query=%5B&isRegex=true&isShardRequest=true", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?"+tt.query, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, raw)
			}
		})
	}

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/logs", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/logs?isShardRequest=maybe", []cluster.LogEntry{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestHandleShardAdmin tests shard node registration through the API
func TestHandleShardAdmin(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"register", http.MethodPost, "/api/shards", cluster.NodeInfo{ID: "node2", Addr: "http://node2:8080"}, http.StatusNoContent},
		{"register again moves", http.MethodPost, "/api/shards", cluster.NodeInfo{ID: "node2", Addr: "http://node2b:8080"}, http.StatusNoContent},
		{"missing addr", http.MethodPost, "/api/shards", cluster.NodeInfo{ID: "node3"}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/shards", "[", http.StatusBadRequest},
		{"replace local node", http.MethodPost, "/api/shards", cluster.NodeInfo{ID: "node1", Addr: "http://x:8080"}, http.StatusConflict},
		{"url taken", http.MethodPost, "/api/shards", cluster.NodeInfo{ID: "node3", Addr: "http://node2b:8080"}, http.StatusConflict},
		{"remove unknown", http.MethodDelete, "/api/shards/node9", nil, http.StatusNotFound},
		{"remove local", http.MethodDelete, "/api/shards/node1", nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, raw)
			}
		})
	}

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/shards", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[struct {
		Nodes       []cluster.NodeInfo `json:"nodes"`
		LocalNodeID string             `json:"localNodeId"`
		Initialized bool               `json:"initialized"`
	}](t, raw)
	assert.Equal(t, []cluster.NodeInfo{
		{ID: "node1", Addr: "http://localhost:8080"},
		{ID: "node2", Addr: "http://node2b:8080"},
	}, listed.Nodes)
	assert.Equal(t, "node1", listed.LocalNodeID)
	assert.True(t, listed.Initialized)
	assert.Equal(t, []string{"http://node2b:8080"}, s.router.GetConfiguration().ShardNodes)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/shards/node2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, s.router.GetShardNodes(), 1)
}

// TestHandleShardConfig tests reading and replacing the shard configuration
func TestHandleShardConfig(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/shards/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := decode[cluster.ShardConfiguration](t, raw)
	assert.Equal(t, cluster.ShardingTimeBased, current.ShardingType)
	assert.False(t, current.ShardingEnabled)

	update := map[string]any{
		"shardingEnabled": true,
		"shardingType":    "SOURCE_BASED",
		"numberOfShards":  4,
		"shardNodes":      []string{"http://node2:8080"},
	}
	resp, raw = doJSON(t, http.MethodPut, ts.URL+"/api/shards/config", update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	stored := decode[cluster.ShardConfiguration](t, raw)
	assert.Equal(t, 4, stored.NumberOfShards)
	assert.Equal(t, 1, stored.ReplicationFactor, "omitted fields keep their defaults")
	assert.True(t, s.router.IsShardingEnabled())
	assert.Equal(t, map[string]string{"node1": "http://localhost:8080", "node2": "http://node2:8080"}, s.router.GetShardNodes())

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/shards/config", map[string]any{"numberOfShards": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/shards/config", map[string]any{"shardingType": "RANDOM"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 4, s.router.GetConfiguration().NumberOfShards)
}

// TestHandleShardingEnabled tests the sharding toggle
func TestHandleShardingEnabled(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	resp, raw := doJSON(t, http.MethodPut, ts.URL+"/api/shards/enabled", enabledBody{Enabled: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[enabledBody](t, raw).Enabled)
	assert.True(t, s.router.GetConfiguration().ShardingEnabled)

	_, raw = doJSON(t, http.MethodGet, ts.URL+"/api/shards/enabled", nil)
	assert.True(t, decode[enabledBody](t, raw).Enabled)

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/shards/enabled", "true")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestHandleShardInfo tests assignment and stats reporting
func TestHandleShardInfo(t *testing.T) {
	cfg := testConfig()
	cfg.Sharding.Nodes = []string{"http://node2:8080"}
	_, ts := newTestServer(t, cfg)

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/shards/assignments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assignments := decode[struct {
		Count int `json:"count"`
	}](t, raw)
	assert.Equal(t, 3, assignments.Count)

	doJSON(t, http.MethodPost, ts.URL+"/api/logs", []cluster.LogEntry{{ID: "1", Source: "nginx"}})
	doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=x", nil)

	_, raw = doJSON(t, http.MethodGet, ts.URL+"/api/shards/stats", nil)
	stats := decode[struct {
		Operations struct {
			Searches uint64 `json:"searches"`
			Indexed  uint64 `json:"indexed"`
		} `json:"operations"`
		Index struct {
			Entries int `json:"entries"`
		} `json:"index"`
	}](t, raw)
	assert.Equal(t, uint64(1), stats.Operations.Searches)
	assert.Equal(t, uint64(1), stats.Operations.Indexed)
	assert.Equal(t, 1, stats.Index.Entries)
}

// TestHandleCache tests cache stats and clearing
func TestHandleCache(t *testing.T) {
	cfg := testConfig()
	cfg.Sharding.Enabled = true
	s, ts := newTestServer(t, cfg)

	doJSON(t, http.MethodPost, ts.URL+"/api/logs", []cluster.LogEntry{{ID: "1", Message: "boom"}})
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=boom", nil)
	assert.Empty(t, resp.Header.Get(headerCached))
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=boom", nil)
	assert.Equal(t, "true", resp.Header.Get(headerCached))

	_, raw := doJSON(t, http.MethodGet, ts.URL+"/api/cache", nil)
	body := decode[struct {
		Stats struct {
			Hits   uint64 `json:"hits"`
			Misses uint64 `json:"misses"`
			Sets   uint64 `json:"sets"`
		} `json:"stats"`
		Enabled bool `json:"enabled"`
	}](t, raw)
	assert.True(t, body.Enabled)
	assert.Equal(t, uint64(1), body.Stats.Hits)
	assert.Equal(t, uint64(1), body.Stats.Misses)
	assert.Equal(t, uint64(1), body.Stats.Sets)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/cache", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, s.cache.Stats().Hits)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=boom", nil)
	assert.Empty(t, resp.Header.Get(headerCached))
}

// TestHandleMembership tests heartbeat, leave and instance listing
func TestHandleMembership(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	resp, _ := doJSON(t, http.MethodPost, ts.URL+coordinator.HeartbeatPath,
		cluster.InstanceAnnouncement{InstanceID: "instance-b", URL: "http://b:8080", Timestamp: 1})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+coordinator.HeartbeatPath, cluster.InstanceAnnouncement{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, raw := doJSON(t, http.MethodGet, ts.URL+"/api/cluster/instances", nil)
	listed := decode[struct {
		InstanceID string                       `json:"instanceId"`
		Instances  []coordinator.InstanceRecord `json:"instances"`
		Active     int                          `json:"active"`
	}](t, raw)
	assert.Equal(t, "instance-a", listed.InstanceID)
	assert.Equal(t, 2, listed.Active)
	require.Len(t, listed.Instances, 2)
	assert.Equal(t, "http://b:8080", listed.Instances[1].URL)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+coordinator.LeavePath, cluster.InstanceAnnouncement{InstanceID: "instance-b"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"instance-a"}, s.coordinator.ActiveInstances())

	resp, _ = doJSON(t, http.MethodPost, ts.URL+coordinator.LeavePath, cluster.InstanceAnnouncement{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestHandleSources tests source ownership endpoints
func TestHandleSources(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	sources := []cluster.SourceDescriptor{{ID: "nginx"}, {ID: "postgres"}, {ID: "redis"}, {ID: "kafka"}}

	_, raw := doJSON(t, http.MethodPost, ts.URL+"/api/sources/filter", sources)
	assert.Equal(t, sources, decode[[]cluster.SourceDescriptor](t, raw), "scaling disabled owns everything")

	resp, raw := doJSON(t, http.MethodPut, ts.URL+"/api/cluster/scaling", enabledBody{Enabled: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[enabledBody](t, raw).Enabled)
	s.coordinator.RegisterInstance("instance-b")

	members := []string{"instance-a", "instance-b"}
	var want []cluster.SourceDescriptor
	for _, src := range sources {
		if coordinator.Owner(src.ID, members) == "instance-a" {
			want = append(want, src)
		}
	}
	_, raw = doJSON(t, http.MethodPost, ts.URL+"/api/sources/filter", sources)
	got := decode[[]cluster.SourceDescriptor](t, raw)
	assert.ElementsMatch(t, want, got)

	_, raw = doJSON(t, http.MethodGet, ts.URL+"/api/sources/redis/owner", nil)
	owner := decode[struct {
		SourceID string `json:"sourceId"`
		Owner    string `json:"owner"`
		Local    bool   `json:"local"`
	}](t, raw)
	assert.Equal(t, "redis", owner.SourceID)
	assert.Equal(t, coordinator.Owner("redis", members), owner.Owner)
	assert.Equal(t, owner.Owner == "instance-a", owner.Local)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sources/filter", "{}")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestHandleMetrics tests the Prometheus endpoint
func TestHandleMetrics(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	doJSON(t, http.MethodGet, ts.URL+"/api/logs/search?query=x", nil)

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `logsearch_searches_total{path="local"} 1`)
	assert.Contains(t, string(raw), "logsearch_partial_searches_total 0")
	assert.Contains(t, string(raw), "go_goroutines")
}

// TestHandleMethodNotAllowed tests that routes are method-bound
func TestHandleMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/logs/search", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
