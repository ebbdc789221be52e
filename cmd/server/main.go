package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"portalquejas/internal/history"
	"portalquejas/internal/platform/config"
	"portalquejas/internal/platform/httpserver"
	"portalquejas/internal/platform/kafka"
	"portalquejas/internal/platform/kafka/consumer"
	"portalquejas/internal/platform/logger"
	"portalquejas/internal/platform/metrics"
	"portalquejas/internal/platform/redis"
	audit "portalquejas/pkg/platform/audit"
	historyconsumer "portalquejas/pkg/platform/audit/consumer"
	"portalquejas/pkg/platform/audit/store/memory"
	"portalquejas/pkg/platform/audit/store/postgres"
)

const shutdownTimeout = 10 * time.Second

// main wires the history writer and the history API. Business logic lives
// in internal and pkg packages.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.IsProduction())
	m := metrics.New()
	audit.RegisterEntities(cfg.Audit.ExtraEntities...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := kafka.EnsureAuditTopic(ctx, cfg.Kafka, log); err != nil {
		// the topic is also auto-created on first publish
		log.WarnContext(ctx, "could not ensure audit topic", "error", err)
	}

	writer := historyconsumer.NewHistoryHandler(store, historyconsumer.WithLogger(log))
	cons := consumer.New(
		consumer.KafkaDialer(cfg.Kafka, cfg.Kafka.GroupID, log),
		writer,
		consumer.WithLogger(log),
		consumer.WithMetrics(m),
		consumer.WithProgressEvery(cfg.Audit.ProgressEvery),
		consumer.WithVerbose(!cfg.Server.IsProduction()),
	)

	historyOpts := []history.Option{history.WithLogger(log), history.WithMetrics(m)}
	var checks []healthCheck
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.WarnContext(ctx, "redis unavailable, history stats are not cached", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		historyOpts = append(historyOpts, history.WithStatsCache(history.NewRedisStatsCache(redisClient, cfg.History.StatsTTL)))
		checks = append(checks, healthCheck{name: "redis", check: redisClient.Health})
	}
	historyService, err := history.New(store, historyOpts...)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Server.Addr, newRouter(cfg, log, historyService, cons, checks...))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting portal history API", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Audit.ConsumerEnable {
		g.Go(func() error {
			return cons.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := cons.Stop(shutdownCtx); err != nil {
			log.ErrorContext(shutdownCtx, "audit consumer stop failed", "error", err)
		}
		stats := cons.Stats()
		log.InfoContext(shutdownCtx, "audit consumer stopped",
			"processed", stats.Processed,
			"failed", stats.Failed,
			"duplicates", stats.Duplicates,
		)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore uses Postgres when DATABASE_URL is set and an in-memory store
// otherwise.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (audit.Store, func(), error) {
	if cfg.Database.URL == "" {
		log.WarnContext(ctx, "DATABASE_URL not set, history is kept in memory")
		return memory.NewInMemoryStore(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.Driver, cfg.Database.URL, postgres.DefaultPoolConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}
