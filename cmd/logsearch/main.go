// Package main implements the logsearch service: one process that indexes log
// entries locally, answers searches across shard nodes and takes part in
// heartbeat-based membership for source partitioning.
//
// Every instance is equal. There is no central coordinator; each instance
// keeps its own view of live peers and of the shard topology.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                  logsearch                    │
//	├──────────────────────────────────────────────┤
//	│  HTTP API:                                   │
//	│    /api/logs          - Ingest and search    │
//	│    /api/shards/*      - Shard administration │
//	│    /api/cache         - Result cache         │
//	│    /api/cluster/*     - Membership           │
//	│    /api/sources/*     - Source ownership     │
//	│    /health, /metrics  - Operations           │
//	├──────────────────────────────────────────────┤
//	│  Components:                                 │
//	│    shard.Router       - Distributed search   │
//	│    cache.ResultCache  - Merged results       │
//	│    storage.MemoryIndex - Local entries       │
//	│    coordinator        - Heartbeats, owners   │
//	└──────────────────────────────────────────────┘
//
// Configuration comes from flags, LOGSEARCH_* environment variables and an
// optional --config file, in that priority order.
//
// Example usage:
//
//	# Start two instances sharding over each other
//	logsearch --listen :8080 --sharding.enabled \
//	  --sharding.local-node-url http://localhost:8080 \
//	  --sharding.nodes http://localhost:8081
//
//	LOGSEARCH_LISTEN=:8081 LOGSEARCH_SHARDING_ENABLED=true \
//	LOGSEARCH_SHARDING_LOCAL_NODE_URL=http://localhost:8081 \
//	LOGSEARCH_SHARDING_NODES=http://localhost:8080 logsearch
//
//	# Search
//	curl 'localhost:8080/api/logs/search?query=level:ERROR'
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/logsearch/internal/config"
	"github.com/dreamware/logsearch/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the single command of the binary. The command reads
// the configuration, starts the server and blocks until the context ends.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logsearch",
		Short: "Distributed log search node.",
		Long: `Distributed log search node.

Indexes log entries locally, fans searches out across shard nodes, caches
merged results and partitions log sources across live instances.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := log.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			srv, err := newServer(cfg, logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	config.BindFlags(cmd.Flags())
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}
