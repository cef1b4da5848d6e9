package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unify/internal/platform/config"
	"unify/internal/platform/database"
	"unify/internal/platform/httpserver"
	"unify/internal/platform/logger"
	"unify/internal/platform/redis"
	"unify/internal/resolve/announce"
	"unify/internal/resolve/backfill"
	"unify/internal/resolve/metrics"
	"unify/internal/resolve/service"
	"unify/internal/resolve/store/postgres"
	httptransport "unify/internal/transport/http"
)

const runLockKey = "unify:resolution:lock"

// main wires high-level dependencies and drives a single resolution run.
// Business logic lives in internal/resolve packages.
func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("resolution run failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	handles, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer handles.Close()

	st := postgres.New(handles.DB, handles.Pool, postgres.WithBatchSize(cfg.WriteBatchSize))
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	// Only one generation swap may be in flight at a time. When Redis is
	// not configured we run unguarded, which is fine for single-node jobs.
	locker, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if locker != nil {
		lock, err := locker.AcquireRunLock(ctx, runLockKey, cfg.RunLockTTL)
		if err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				log.Warn("releasing run lock", "error", err)
			}
		}()
	}

	var announcer announce.Publisher = announce.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := announce.NewKafka(ctx, cfg.KafkaBrokers, cfg.AnnounceTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		announcer = kafka
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithAnnouncer(announcer),
		service.WithClusterCap(cfg.ClusterCap),
	}
	if len(cfg.FactTables) > 0 {
		runner, err := backfill.New(st, cfg.FactTables, backfill.WithLogger(log))
		if err != nil {
			return err
		}
		opts = append(opts, service.WithBackfill(runner))
	}

	resolver, err := service.New(st, st, opts...)
	if err != nil {
		return err
	}

	// Health and metrics stay up for the duration of the run.
	srv := httpserver.New(cfg.AdminAddr, httptransport.NewRouter(handles.DB))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin server shutdown", "error", err)
		}
	}()

	log.Info("starting resolution run", "admin_addr", cfg.AdminAddr, "cluster_cap", cfg.ClusterCap)

	stats, err := resolver.Run(ctx)
	if err != nil {
		return err
	}

	log.Info("resolution run complete",
		"run_id", stats.RunID,
		"records", stats.StagingRecords,
		"clusters", stats.Clusters,
		"households", stats.Households,
		"capped_merges", stats.CappedMerges,
		"duration", stats.Duration,
	)
	return nil
}
