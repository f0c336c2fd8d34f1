// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Zero-cache is the entry point for the zero sync engine's server process.

It owns the PostgreSQL logical-replication change source, the per-shard CVR
store, the mutagen push processor, the CVR purger, and the push HTTP
endpoint client drivers push mutations to.

Usage:

	go run cmd/zero-cache/main.go [flags]

The flags/environment variables are:

	SERVER_PORT     Port to listen on (default: 8080)
	ENVIRONMENT     deployment environment (development, production)
	UPSTREAM_URL    Postgres connection string for the replicated database (required)
	REDIS_URL       Redis connection string backing client local stores (required)
	APP_ID          Namespaces this deployment's shard schemas (default: zero)
	SHARD_NUM       Shard identity within APP_ID (default: 0)
	PUBLICATIONS    Comma-separated list of Postgres publications to subscribe to (required)

Startup Sequence:

 1. Logger: Initialize structured JSON logging (slog).
 2. Config: Load and validate environment variables.
 3. Storage: Establish connections to Postgres and Redis.
 4. Migration: Run idempotent schema updates.
 5. Wiring: Build the change source, CVR store, mutagen processor, and purger.
 6. Server: Bind HTTP listener and handle graceful shutdown.

No business logic lives here. This file is strictly for orchestration and wiring.
*/
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

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/zerosync/zero/internal/platform/config"
	"github.com/zerosync/zero/internal/platform/constants"
	"github.com/zerosync/zero/internal/platform/logging"
	"github.com/zerosync/zero/internal/platform/migration"
	otelplatform "github.com/zerosync/zero/internal/platform/otel"
	pgstore "github.com/zerosync/zero/internal/platform/postgres"
	redisstore "github.com/zerosync/zero/internal/platform/redis"
	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/cvr"
	"github.com/zerosync/zero/internal/zero/mutagen"
	"github.com/zerosync/zero/internal/zero/pgsource"
	"github.com/zerosync/zero/internal/zero/purger"
	"github.com/zerosync/zero/internal/zero/syncproto"
	"github.com/zerosync/zero/internal/zero/watermark"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application_startup_failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// # 1. Logger
	log := logging.New("zero-cache", false)
	log.Info("zero_cache_initializing")

	// # 2. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Debug {
		log = logging.New("zero-cache", true)
	}
	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("app_id", cfg.AppID),
		slog.Int("shard_num", cfg.ShardNum),
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// # 3. PostgreSQL
	pool, err := pgstore.NewPool(startupCtx, cfg.UpstreamURL, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	// # 4. Redis (backs client local stores reached over the sync protocol;
	// the server process itself only needs it to validate connectivity at
	// startup, since per-client stores are opened by syncproto handlers).
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	// # 5. Migrations
	if err := migration.RunUp(cfg.UpstreamURL, cfg.MigrationPath, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// # 6. Metrics
	meter, err := otelplatform.Init(startupCtx, otelplatform.Config{
		ServiceName: "zero-cache",
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}
	commitCounter, err := meter.Int64Counter("zero_cache_change_stream_commits_total")
	if err != nil {
		return fmt.Errorf("register commit counter: %w", err)
	}
	defer func() {
		if serr := otelplatform.Shutdown(context.Background()); serr != nil {
			log.Error("metrics_shutdown_failed", slog.Any("error", serr))
		}
	}()

	// # 7. Change source
	sourceCfg := pgsource.Config{
		AppID:                cfg.AppID,
		ShardNum:             cfg.ShardNum,
		Publications:         cfg.PublicationList(),
		ReplicaPath:          cfg.ReplicaPath,
		TableCopyWorkers:     cfg.TableCopyWorkers,
		TableCopyRowsPerPart: cfg.TableCopyRowsPerPart,
	}
	source := pgsource.New(sourceCfg, pool, log)
	if _, err := source.Initialize(startupCtx); err != nil {
		return fmt.Errorf("initialize change source: %w", err)
	}

	// # 8. CVR store and purger
	shardSchema := sourceCfg.ShardSchema()
	cvrStore := cvr.New(pool, shardSchema)

	cvrPurger := purger.New(purger.Config{
		Pool:                pool,
		Schema:              shardSchema,
		Logger:              log,
		InactivityThreshold: cfg.CVRInactivityThreshold,
	})

	// # 9. Mutagen (push endpoint processor)
	registry := mutagen.NewRegistry()
	processor := mutagen.New(pool, shardSchema, registry)
	pushHandler := syncproto.NewPushHandler(processor, cvrStore)

	// # 10. HTTP server
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodPost, "/push", pushHandler)

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	group, groupCtx := errgroup.WithContext(appCtx)

	group.Go(func() error {
		return cvrPurger.Run(groupCtx)
	})

	group.Go(func() error {
		return runChangeStream(groupCtx, source, log, commitCounter)
	})

	group.Go(func() error {
		log.Info("zero_cache_listening", slog.String("port", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http_server_crash: %w", err)
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-quit:
		log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case <-groupCtx.Done():
		log.Info("worker_exited_early")
	}

	appCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_failed", slog.Any("error", err))
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker group: %w", err)
	}

	log.Info("graceful_shutdown_complete")
	return nil
}

// runChangeStream drains the change source's replication stream and acks
// the watermark on every transaction commit. A full deployment would fan
// each message out to the server-side IVM view per active CVR before
// acking; this loop is the minimal, always-correct baseline that keeps the
// replication slot from falling behind while that server-side propagation
// is being built out.
func runChangeStream(ctx context.Context, source *pgsource.ChangeSource, log *slog.Logger, commitCounter metric.Int64Counter) error {
	msgCh, ackCh, err := source.StartStream(ctx, watermark.Zero)
	if err != nil {
		return fmt.Errorf("start change stream: %w", err)
	}
	log.Info("change_stream_started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			if msg.Kind != changestream.KindCommit {
				continue
			}
			commitCounter.Add(ctx, 1)
			select {
			case ackCh <- msg.Watermark:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
