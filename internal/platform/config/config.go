// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the zero-cache server process.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Upstream PostgreSQL (logical replication source and CVR/mutation store).
	UpstreamURL string `env:"UPSTREAM_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory
	// used to idempotently create the per-shard schema.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis), backing the client Local Store.
	RedisURL string `env:"REDIS_URL,required"`

	// AppID namespaces the shard's Postgres schemas: "<appID>" and
	// "<appID>_<shardNum>".
	AppID string `env:"APP_ID" envDefault:"zero"`

	// ShardNum identifies this shard among others sharing the same AppID.
	ShardNum int `env:"SHARD_NUM" envDefault:"0"`

	// Publications is the comma-separated list of PG publication names this
	// shard subscribes to.
	Publications string `env:"PUBLICATIONS,required"`

	// ReplicaPath is the filesystem path for the per-client SQLite replica.
	ReplicaPath string `env:"REPLICA_PATH" envDefault:"./data/replica.sqlite3"`

	// TableCopyWorkers bounds the parallel connections used during initial sync.
	TableCopyWorkers int `env:"TABLE_COPY_WORKERS" envDefault:"4"`

	// TableCopyRowsPerPart is the target row count per initial-sync partition.
	TableCopyRowsPerPart int `env:"TABLE_COPY_ROWS_PER_PART" envDefault:"100000"`

	// CVR purge tuning.
	CVRInactivityThreshold time.Duration `env:"CVR_INACTIVITY_THRESHOLD" envDefault:"720h"`
	CVRPurgeMinSleep       time.Duration `env:"CVR_PURGE_MIN_SLEEP"      envDefault:"1m"`
	CVRPurgeMaxSleep       time.Duration `env:"CVR_PURGE_MAX_SLEEP"      envDefault:"16m"`
	CVRPurgeBatchSize      int           `env:"CVR_PURGE_BATCH_SIZE"     envDefault:"200"`
	CVRPurgeBatchIncrement int           `env:"CVR_PURGE_BATCH_INCREMENT" envDefault:"50"`

	// Query manager TTL discipline.
	MaxQueryTTL             time.Duration `env:"MAX_QUERY_TTL"              envDefault:"10m"`
	QueryChangeThrottle     time.Duration `env:"QUERY_CHANGE_THROTTLE"      envDefault:"100ms"`
	RecentQueriesMaxEntries int           `env:"RECENT_QUERIES_MAX_ENTRIES" envDefault:"1000"`

	// OTLP metrics exporter endpoint. Empty disables the OTLP exporter in
	// favor of the stdout exporter.
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	// Cross-Origin Resource Sharing (push/sync HTTP endpoints).
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PublicationList splits the comma-separated Publications setting.
func (c *Config) PublicationList() []string {
	var out []string
	for _, p := range strings.Split(c.Publications, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ShardSchema returns the per-shard schema name ("<appID>_<shardNum>").
func (c *Config) ShardSchema() string {
	return fmt.Sprintf("%s_%d", c.AppID, c.ShardNum)
}
