package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/api"
	"github.com/rmax-ai/graphsync/pkg/blob"
	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/observability"
	"github.com/rmax-ai/graphsync/pkg/relay"
	"github.com/rmax-ai/graphsync/pkg/store"
	busredis "github.com/rmax-ai/graphsync/pkg/store/redis"
	"github.com/rmax-ai/graphsync/web"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 5 * time.Second
)

func main() {
	// A missing .env file is fine; the environment is used as is.
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Stderr.WriteString("graphsync-d: " + err.Error() + "\n")
		os.Exit(2)
	}

	logCfg := observability.DefaultLoggerConfig("graphsync-d")
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	logCfg.LogFile = cfg.LogFile
	if err := observability.InitializeLogger(logCfg); err != nil {
		os.Stderr.WriteString("graphsync-d: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer observability.Sync()
	logger := observability.GetLogger()

	logger.Info("system_started", zap.String("component", "graphsync-d"), zap.String("addr", cfg.Addr))

	if err := run(cfg, logger); err != nil {
		logger.Error("shutdown_with_error", zap.Error(err))
		observability.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown_complete")
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(graph.NewStore(), logger.Named("relay"))
	defer hub.Close()

	server := api.NewServer(hub, cfg.Addr, logger.Named("api"))

	// Journal
	if cfg.DBPath != "" {
		st, err := store.NewStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("failed_to_close_store", zap.Error(err))
			} else {
				logger.Info("store_closed")
			}
		}()
		logger.Info("store_initialized", zap.String("path", cfg.DBPath))

		replayed, err := hub.Restore(ctx, st)
		if err != nil {
			return err
		}
		g := hub.Graph()
		logger.Info("relay_graph_restored", zap.Int("replayed", replayed), zap.Int("nodes", len(g.Nodes)), zap.Int("edges", len(g.Edges)))

		hub.SetJournal(st)
		server.SetJournal(st)

		if cfg.SnapshotEvery > 0 {
			snapshots := relay.NewSnapshotWorker(hub, st, cfg.SnapshotEvery, logger.Named("snapshot"))
			go snapshots.Run(ctx)
			// Runs before st.Close, after the hub has stopped taking events.
			defer func() {
				finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := snapshots.TakeSnapshot(finalCtx); err != nil {
					logger.Error("final_snapshot_failed", zap.Error(err))
				}
			}()
		}
		if cfg.Retention > 0 {
			var archiver *store.Archiver
			if cfg.ArchiveDir != "" {
				archiver = store.NewArchiver(st, blob.NewLocalStore(cfg.ArchiveDir), 0)
				logger.Info("journal_archive_enabled", zap.String("dir", cfg.ArchiveDir))
			}
			pruner := &journalPruner{
				store:          st,
				archiver:       archiver,
				retention:      cfg.Retention,
				guardSnapshots: cfg.SnapshotEvery > 0,
				logger:         logger.Named("pruner"),
			}
			go pruner.Run(ctx)
		}
	}

	// Fan-out bus
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		bus := busredis.NewBus(rdb, uuid.NewString()).WithChannel(cfg.RedisChannel)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := bus.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		hub.SetBus(bus)
		logger.Info("bus_connected", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel), zap.String("instance_id", bus.InstanceID()))
	}

	if assets, err := webAssets(cfg); err != nil {
		logger.Warn("web_assets_unavailable", zap.String("mode", cfg.WebAssetsMode), zap.Error(err))
	} else if assets != nil {
		server.SetStaticFS(assets)
	}

	if cfg.TLSCertFile != "" {
		server.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown_initiated")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server_stop_failed", zap.Error(err))
	}
	// Disconnect peers before the journal closes.
	hub.Close()
	return runErr
}

func webAssets(cfg Config) (fs.FS, error) {
	switch cfg.WebAssetsMode {
	case "embedded":
		return web.Assets()
	case "fs":
		return os.DirFS(cfg.WebDir), nil
	default:
		return nil, nil
	}
}

// journalPruner expires journal entries older than retention, once at start and then hourly.
// With an archiver the entries are moved to the archive first; if that fails nothing is deleted.
// With guardSnapshots it never expires entries newer than the latest snapshot.
type journalPruner struct {
	store          *store.Store
	archiver       *store.Archiver
	retention      time.Duration
	guardSnapshots bool
	logger         *zap.Logger
}

func (p *journalPruner) Run(ctx context.Context) {
	p.pruneOnce(ctx)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneOnce(ctx)
		}
	}
}

func (p *journalPruner) pruneOnce(ctx context.Context) {
	cutoff, err := p.cutoff(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("journal_prune_failed", zap.Error(err))
		}
		return
	}

	if p.archiver != nil {
		n, err := p.archiver.ArchiveBefore(ctx, cutoff)
		if n > 0 {
			p.logger.Info("journal_archived", zap.Int("entries", n), zap.Time("cutoff", cutoff))
		}
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("journal_archive_failed", zap.Error(err))
			}
			return
		}
	}

	n, err := p.store.PruneEntriesBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("journal_prune_failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		p.logger.Info("journal_pruned", zap.Int64("entries", n), zap.Time("cutoff", cutoff))
	}
}

func (p *journalPruner) cutoff(ctx context.Context) (time.Time, error) {
	cutoff := time.Now().UTC().Add(-p.retention)
	if !p.guardSnapshots {
		return cutoff, nil
	}
	snap, err := p.store.LatestSnapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if snap == nil {
		// Nothing to restore from yet; the journal is the only record.
		return time.Time{}, nil
	}
	if snap.TsSnapshot.Before(cutoff) {
		return snap.TsSnapshot, nil
	}
	return cutoff, nil
}
