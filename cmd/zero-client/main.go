// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Zero-client is a minimal driver binary for the client half of the zero sync
engine: it opens a local store and an on-disk SQLite replica, wires the
mutation tracker, query manager, poke handler, and optimistic mutation
pipeline together, and exposes them for integration testing.

It is not a UI. Embedding applications are expected to construct the same
pieces (internal/zero/localstore, internal/zero/replicator,
internal/zero/mutation, internal/zero/querymanager, internal/zero/poke,
internal/zero/client) directly rather than shell out to this binary; it
exists as a runnable worked example of that wiring and as a harness for
exercising the client packages end-to-end without a real network peer.

Usage:

	go run cmd/zero-client/main.go [flags]

The flags/environment variables are:

	REDIS_URL            Redis connection string backing the local store (required)
	REPLICA_PATH         Filesystem path for the per-client SQLite replica
	MAX_QUERY_TTL         Loaded into the config but not read; the query manager
	                      clamps every query TTL to its fixed 10-minute MaxQueryTTL
	QUERY_CHANGE_THROTTLE Minimum spacing between batched query-change patches

Startup Sequence:

 1. Logger: Initialize structured JSON logging (slog).
 2. Config: Load and validate environment variables.
 3. Storage: Open the Redis-backed local store and the SQLite replica.
 4. Wiring: Build the mutation tracker, query manager, poke handler, and
    mutation pipeline.
 5. Idle: Block until a termination signal, as a real embedder would drive
    these pieces from its own network loop instead.
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zerosync/zero/internal/platform/config"
	"github.com/zerosync/zero/internal/platform/logging"
	redisstore "github.com/zerosync/zero/internal/platform/redis"
	zeroclient "github.com/zerosync/zero/internal/zero/client"
	zerolocalstore "github.com/zerosync/zero/internal/zero/localstore"
	"github.com/zerosync/zero/internal/zero/mutation"
	"github.com/zerosync/zero/internal/zero/poke"
	"github.com/zerosync/zero/internal/zero/querymanager"
	"github.com/zerosync/zero/internal/zero/replicator"
	"github.com/zerosync/zero/pkg/uuidv7"
)

func main() {
	if err := run(); err != nil {
		slog.Error("client_startup_failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// # 1. Logger
	log := logging.New("zero-client", false)
	log.Info("zero_client_initializing")

	// # 2. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	clientID := uuidv7.New()
	log.Info("configuration_loaded", slog.String("client_id", clientID))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startupCancel()

	// # 3. Local store (Redis) and replica (SQLite)
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()
	store := zerolocalstore.New(rdb, clientID)

	replica, err := replicator.Open(cfg.ReplicaPath)
	if err != nil {
		return fmt.Errorf("open replica: %w", err)
	}
	defer replica.Close()

	// # 4. Mutation tracker, query manager, poke handler, mutation pipeline
	tracker := mutation.New(func() {
		log.Debug("all_mutations_applied")
	})

	qm, err := querymanager.New(querymanager.Config{
		Logger:                  log,
		Mutations:               tracker,
		QueryChangeThrottle:     cfg.QueryChangeThrottle,
		RecentQueriesMaxEntries: cfg.RecentQueriesMaxEntries,
		OnFlush: func(patch []querymanager.PatchOp) {
			log.Debug("query_patch_flushed", slog.Int("ops", len(patch)))
		},
	})
	if err != nil {
		return fmt.Errorf("build query manager: %w", err)
	}

	pokeHandler := poke.New(store, tracker, func(clientID string, lmid int64) {
		qm.FlushDeferredDeletes()
		log.Debug("lmid_advanced", slog.String("client_id", clientID), slog.Int64("lmid", lmid))
	})

	registry := zeroclient.NewRegistry()
	pipeline := zeroclient.New(store, nil, tracker, registry, clientID)

	log.Info("zero_client_ready",
		slog.String("replica_path", cfg.ReplicaPath),
		slog.String("replica_watermark", replica.Watermark().String()),
		slog.Int("outstanding_mutations", pipeline.Outstanding()),
	)

	// # 5. Idle until terminated. A real embedder drives Mutate/Rebase calls
	// and feeds the poke handler from its own transport loop instead of
	// blocking here.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	sig := <-quit
	log.Info("shutdown_signal_received", slog.String("signal", sig.String()))

	// A disconnecting transport must reset any in-flight poke assembly so a
	// reconnect starts from a clean buffer instead of a half-applied cookie.
	pokeHandler.Disconnected()
	return nil
}
