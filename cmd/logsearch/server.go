package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dreamware/logsearch/internal/cache"
	"github.com/dreamware/logsearch/internal/cluster"
	"github.com/dreamware/logsearch/internal/config"
	"github.com/dreamware/logsearch/internal/coordinator"
	"github.com/dreamware/logsearch/internal/metrics"
	"github.com/dreamware/logsearch/internal/shard"
	"github.com/dreamware/logsearch/internal/storage"
)

// shutdownTimeout bounds the leave broadcast and the HTTP drain.
const shutdownTimeout = 5 * time.Second

// server wires the components of one instance together.
type server struct {
	logger      *zap.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	index       *storage.MemoryIndex
	cache       *cache.ResultCache
	router      *shard.Router
	coordinator *coordinator.Coordinator
	heartbeater *coordinator.Heartbeater
	cfg         config.Config
}

// newServer builds every component from cfg. Nothing runs until Run.
func newServer(cfg config.Config, logger *zap.Logger) (*server, error) {
	client := cluster.NewClient(cfg.Sharding.NodeTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	resultCache, err := cache.New(cfg.SearchCache, cache.WithLogger(logger), cache.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	index := storage.NewMemoryIndex()
	shardClient := shard.NewHTTPShardClient(client)
	initial := cfg.ShardConfiguration()
	router, err := shard.NewRouter(shard.Config{
		Initial:      &initial,
		LocalNodeID:  cfg.Sharding.LocalNodeID,
		LocalNodeURL: cfg.Sharding.LocalNodeURL,
		NodeTimeout:  cfg.Sharding.NodeTimeout,
		MaxParallel:  cfg.Sharding.MaxParallel,
		TimeBucket:   cfg.Sharding.TimeBucket,
	}, index,
		shard.WithCache(resultCache),
		shard.WithNodeSearcher(shardClient),
		shard.WithNodeIndexer(shardClient),
		shard.WithLogger(logger),
		shard.WithMetrics(m),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create shard router")
	}

	coord := coordinator.New(coordinator.Config{
		InstanceID:               cfg.HorizontalScaling.InstanceID,
		AdvertiseURL:             cfg.HorizontalScaling.AdvertiseURL,
		HeartbeatTimeout:         cfg.HorizontalScaling.HeartbeatTimeout,
		HorizontalScalingEnabled: cfg.HorizontalScaling.Enabled,
	}, coordinator.WithLogger(logger), coordinator.WithMetrics(m))

	heartbeater := coordinator.NewHeartbeater(coord, cfg.HorizontalScaling.HeartbeatInterval, cfg.HorizontalScaling.Peers,
		coordinator.WithHeartbeatClient(client),
		coordinator.WithHeartbeatLogger(logger),
		coordinator.WithHeartbeatMetrics(m),
	)

	return &server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		metrics:     m,
		index:       index,
		cache:       resultCache,
		router:      router,
		coordinator: coord,
		heartbeater: heartbeater,
	}, nil
}

// Run serves HTTP and heartbeats until ctx is done, then leaves the cluster
// and drains in-flight requests.
func (s *server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		s.logger.Info("logsearch listening",
			zap.String("listen", s.cfg.Listen),
			zap.String("instance", s.coordinator.InstanceID()),
			zap.String("node", s.router.LocalNodeID()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	go s.heartbeater.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-listenErr:
		if ok {
			runErr = errors.Wrap(err, "listen")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.heartbeater.Stop()
	s.heartbeater.Leave(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown error", zap.Error(err))
	}
	s.cache.Close()
	_ = s.index.Close()

	s.logger.Info("logsearch stopped")
	return runErr
}
