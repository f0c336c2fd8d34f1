package pgsource

import "strconv"

// Config bundles the parameters spec.md §4.1's `initialize(config)`
// requires: shard identity, the publication set to subscribe to, where
// the per-client SQLite replica lives, and table-copy parallelism.
type Config struct {
	AppID                 string
	ShardNum              int
	Publications          []string
	ReplicaPath           string
	TableCopyWorkers      int
	TableCopyRowsPerPart  int
}

// ShardSchema is the internal schema name this shard's bookkeeping tables
// (clients/mutations/shardConfig/replicas) live under.
func (c Config) ShardSchema() string {
	return c.AppID + "_" + strconv.Itoa(c.ShardNum)
}
