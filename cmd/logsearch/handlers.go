package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/logsearch/internal/cache"
	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/coordinator"
	"github.com/dreamware/logsearch/internal/shard"
	"github.com/dreamware/logsearch/internal/storage"
)

// Response headers describing how a search result was produced.
const (
	headerPartial     = "X-Search-Partial"
	headerFailedNodes = "X-Search-Failed-Nodes"
	headerCached      = "X-Search-Cached"
)

// routes builds the HTTP API of one instance.
func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/logs", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/logs/search", s.handleSearch).Methods(http.MethodGet)

	api.HandleFunc("/shards", s.handleListShards).Methods(http.MethodGet)
	api.HandleFunc("/shards", s.handleRegisterShard).Methods(http.MethodPost)
	api.HandleFunc("/shards/config", s.handleGetShardConfig).Methods(http.MethodGet)
	api.HandleFunc("/shards/config", s.handlePutShardConfig).Methods(http.MethodPut)
	api.HandleFunc("/shards/enabled", s.handleGetShardingEnabled).Methods(http.MethodGet)
	api.HandleFunc("/shards/enabled", s.handlePutShardingEnabled).Methods(http.MethodPut)
	api.HandleFunc("/shards/assignments", s.handleAssignments).Methods(http.MethodGet)
	api.HandleFunc("/shards/stats", s.handleShardStats).Methods(http.MethodGet)
	api.HandleFunc("/shards/{id}", s.handleUnregisterShard).Methods(http.MethodDelete)

	api.HandleFunc("/cache", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.handleCacheClear).Methods(http.MethodDelete)

	api.HandleFunc("/cluster/instances", s.handleInstances).Methods(http.MethodGet)
	api.HandleFunc("/cluster/scaling", s.handlePutScaling).Methods(http.MethodPut)
	api.HandleFunc(strings.TrimPrefix(coordinator.HeartbeatPath, "/api"), s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc(strings.TrimPrefix(coordinator.LeavePath, "/api"), s.handleLeave).Methods(http.MethodPost)

	api.HandleFunc("/sources/filter", s.handleFilterSources).Methods(http.MethodPost)
	api.HandleFunc("/sources/{id}/owner", s.handleSourceOwner).Methods(http.MethodGet)

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(started)))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"instance": s.coordinator.InstanceID(),
		"node":     s.router.LocalNodeID(),
	})
}

// handleIngest indexes a JSON array of log entries. With sharding on each
// entry is stored on the node its sharding type places it on.
// Entries without an id get a generated one so merges can deduplicate them.
//
// Endpoint: POST /api/logs
//
// Query parameters:
//   - isShardRequest: When true the entries go to the local index only; set
//     by nodes placing entries so ingestion never forwards twice
//
// Response:
//   - 204 No Content: Entries indexed
//   - 400 Bad Request: Body is not a JSON array of entries
//   - 502 Bad Gateway: A node owning some of the entries failed
//   - 503 Service Unavailable: Index closed
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	shardRequest, err := parseBool(r.URL.Query().Get("isShardRequest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "isShardRequest").Error())
		return
	}
	var entries []cluster.LogEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}

	index := s.router.Index
	if shardRequest {
		index = s.router.IndexLocal
	}
	if err := index(r.Context(), entries); err != nil {
		s.logger.Error("index failed", zap.Int("entries", len(entries)), zap.Bool("shardRequest", shardRequest), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, storage.ErrIndexClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch runs a search and returns a JSON array of entries, newest first.
//
// Endpoint: GET /api/logs/search
//
// Query parameters:
//   - query: Search text; regex when isRegex=true
//   - startTime, endTime: Optional inclusive bounds in epoch milliseconds
//   - isShardRequest: When true only the local index answers; set by nodes
//     fanning out so a search never recurses
//
// Response headers:
//   - X-Search-Partial: "true" when some shard nodes failed
//   - X-Search-Failed-Nodes: Comma separated failed node ids
//   - X-Search-Cached: "true" when served from the result cache
//
// Response:
//   - 200 OK: Entries (possibly partial)
//   - 400 Bad Request: Malformed parameters or an invalid regex
//   - 502 Bad Gateway: Every targeted node failed
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	key, shardRequest, err := parseSearchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if shardRequest {
		entries, err := s.router.SearchLocal(r.Context(), key)
		if err != nil {
			writeSearchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	result, err := s.router.Search(r.Context(), key)
	if err != nil {
		writeSearchError(w, err)
		return
	}
	if result.Partial {
		ids := make([]string, 0, len(result.Failures))
		for _, f := range result.Failures {
			ids = append(ids, f.NodeID)
		}
		w.Header().Set(headerPartial, "true")
		w.Header().Set(headerFailedNodes, strings.Join(ids, ","))
	}
	if result.Cached {
		w.Header().Set(headerCached, "true")
	}
	writeJSON(w, http.StatusOK, result.Entries)
}

func parseSearchParams(r *http.Request) (cluster.QueryKey, bool, error) {
	q := r.URL.Query()
	isRegex, err := parseBool(q.Get("isRegex"))
	if err != nil {
		return cluster.QueryKey{}, false, errors.Wrap(err, "isRegex")
	}
	shardRequest, err := parseBool(q.Get("isShardRequest"))
	if err != nil {
		return cluster.QueryKey{}, false, errors.Wrap(err, "isShardRequest")
	}
	startTime, err := parseMillis(q.Get("startTime"))
	if err != nil {
		return cluster.QueryKey{}, false, errors.Wrap(err, "startTime")
	}
	endTime, err := parseMillis(q.Get("endTime"))
	if err != nil {
		return cluster.QueryKey{}, false, errors.Wrap(err, "endTime")
	}
	return cluster.NewQueryKey(q.Get("query"), isRegex, startTime, endTime), shardRequest, nil
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseMillis(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

func writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrIndexClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *server) handleListShards(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Nodes           []cluster.NodeInfo `json:"nodes"`
		LocalNodeID     string             `json:"localNodeId"`
		ShardingEnabled bool               `json:"shardingEnabled"`
		Initialized     bool               `json:"initialized"`
	}{
		Nodes:           s.router.Nodes(),
		LocalNodeID:     s.router.LocalNodeID(),
		ShardingEnabled: s.router.IsShardingEnabled(),
		Initialized:     s.router.IsInitialized(),
	})
}

// handleRegisterShard registers a remote shard node.
//
// Endpoint: POST /api/shards
//
// Request body:
//
//	{"id": "node2", "addr": "http://10.0.0.2:8080"}
//
// Response:
//   - 204 No Content: Node registered (or moved to the new address)
//   - 400 Bad Request: Missing id or address
//   - 409 Conflict: The id is the local node, or the address belongs to another node
func (s *server) handleRegisterShard(w http.ResponseWriter, r *http.Request) {
	var node cluster.NodeInfo
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if node.ID == "" || node.Addr == "" {
		writeError(w, http.StatusBadRequest, "missing id/addr")
		return
	}
	if err := s.router.RegisterShardNode(node.ID, node.Addr); err != nil {
		writeError(w, adminStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Endpoint: DELETE /api/shards/{id}
func (s *server) handleUnregisterShard(w http.ResponseWriter, r *http.Request) {
	if err := s.router.UnregisterShardNode(mux.Vars(r)["id"]); err != nil {
		writeError(w, adminStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func adminStatus(err error) int {
	switch {
	case errors.Is(err, shard.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, shard.ErrLocalNode), errors.Is(err, shard.ErrDuplicateURL):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *server) handleGetShardConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.router.GetConfiguration())
}

// handlePutShardConfig replaces the shard configuration and rebuilds the node
// registry from its shardNodes in one step.
//
// Endpoint: PUT /api/shards/config
//
// Response:
//   - 200 OK: The stored configuration
//   - 400 Bad Request: Malformed or invalid configuration
func (s *server) handlePutShardConfig(w http.ResponseWriter, r *http.Request) {
	cfg := cluster.DefaultShardConfiguration()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.router.UpdateConfiguration(cfg); err != nil {
		writeError(w, adminStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.router.GetConfiguration())
}

type enabledBody struct {
	Enabled bool `json:"enabled"`
}

func (s *server) handleGetShardingEnabled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, enabledBody{Enabled: s.router.IsShardingEnabled()})
}

func (s *server) handlePutShardingEnabled(w http.ResponseWriter, r *http.Request) {
	var body enabledBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	s.router.SetShardingEnabled(body.Enabled)
	writeJSON(w, http.StatusOK, enabledBody{Enabled: s.router.IsShardingEnabled()})
}

func (s *server) handleAssignments(w http.ResponseWriter, _ *http.Request) {
	assignments := s.router.Assignments()
	writeJSON(w, http.StatusOK, struct {
		Assignments []shard.ShardAssignment `json:"assignments"`
		Count       int                     `json:"count"`
	}{
		Assignments: assignments,
		Count:       len(assignments),
	})
}

func (s *server) handleShardStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		NodeID     string             `json:"nodeId"`
		Operations shard.LocalStats   `json:"operations"`
		Index      storage.IndexStats `json:"index"`
	}{
		NodeID:     s.router.LocalNodeID(),
		Operations: s.router.LocalStats(),
		Index:      s.index.Stats(),
	})
}

func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Stats   cache.Stats `json:"stats"`
		Enabled bool        `json:"enabled"`
	}{
		Stats:   s.cache.Stats(),
		Enabled: s.cache.Enabled(),
	})
}

func (s *server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		InstanceID               string                       `json:"instanceId"`
		Instances                []coordinator.InstanceRecord `json:"instances"`
		Active                   int                          `json:"active"`
		HorizontalScalingEnabled bool                         `json:"horizontalScalingEnabled"`
	}{
		InstanceID:               s.coordinator.InstanceID(),
		Instances:                s.coordinator.Instances(),
		Active:                   s.coordinator.ActiveInstanceCount(),
		HorizontalScalingEnabled: s.coordinator.IsHorizontalScalingEnabled(),
	})
}

func (s *server) handlePutScaling(w http.ResponseWriter, r *http.Request) {
	var body enabledBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	s.coordinator.SetHorizontalScalingEnabled(body.Enabled)
	writeJSON(w, http.StatusOK, enabledBody{Enabled: s.coordinator.IsHorizontalScalingEnabled()})
}

// handleHeartbeat records a peer announcement.
//
// Endpoint: POST /api/cluster/heartbeat
//
// Request body:
//
//	{"instanceId": "host-b-3f2a9c1d", "url": "http://10.0.0.2:8080", "timestamp": 1700000000000}
//
// Response:
//   - 204 No Content: Peer recorded
//   - 400 Bad Request: Malformed body or empty instance id
func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var a cluster.InstanceAnnouncement
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.coordinator.Announce(a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Endpoint: POST /api/cluster/leave
func (s *server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var a cluster.InstanceAnnouncement
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if a.InstanceID == "" {
		writeError(w, http.StatusBadRequest, "missing instanceId")
		return
	}
	s.coordinator.UnregisterInstance(a.InstanceID)
	w.WriteHeader(http.StatusNoContent)
}

// handleFilterSources returns the posted sources this instance owns.
//
// Endpoint: POST /api/sources/filter
//
// Request body: JSON array of sources, for example [{"id": "nginx-1"}]
func (s *server) handleFilterSources(w http.ResponseWriter, r *http.Request) {
	var sources []cluster.SourceDescriptor
	if err := json.NewDecoder(r.Body).Decode(&sources); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.FilterSourcesForThisInstance(sources))
}

// Endpoint: GET /api/sources/{id}/owner
func (s *server) handleSourceOwner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, struct {
		SourceID string `json:"sourceId"`
		Owner    string `json:"owner"`
		Local    bool   `json:"local"`
	}{
		SourceID: id,
		Owner:    s.coordinator.OwnerOf(id),
		Local:    s.coordinator.ShouldProcessSource(id),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
