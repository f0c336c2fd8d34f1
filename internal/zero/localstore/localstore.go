// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package localstore is the client-local key/value view of replicated data
(spec.md §4.3). It is the thing the IVM View reads rows from and the poke
handler writes diffs into, keyed by a small set of prefixes:

  - "d/" desired queries the client has asked for
  - "g/" got queries the server has hydrated
  - "m/" server-written mutation results ("m/<clientID>/<mutationID>")
  - "<table>/<pk>" the actual replicated row data

It is backed by the same redis.Client the rest of this codebase already
uses for volatile storage, reusing its pooling/timeout discipline rather
than introducing a second storage driver.
*/
package localstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	PrefixDesired  = "d/"
	PrefixGot      = "g/"
	PrefixMutation = "m/"
)

// Store is the client-local key/value replica.
type Store struct {
	rdb    *redis.Client
	prefix string // per-client-group namespace, so multiple clients can share one Redis

	watchMu  sync.Mutex
	watchers map[string][]WatchCallback
}

// New builds a Store namespaced under prefix (typically the client group
// ID) so that one Redis instance can back many local replicas.
func New(rdb *redis.Client, namespace string) *Store {
	return &Store{rdb: rdb, prefix: namespace, watchers: make(map[string][]WatchCallback)}
}

func (s *Store) key(k string) string {
	return s.prefix + ":" + k
}

// Get returns the raw JSON-encoded value stored at key, or "", false if
// absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore: get %s: %w", key, err)
	}
	return v, true, nil
}

// Has reports whether key is present without fetching its value.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("localstore: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Set writes value at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("localstore: set %s: %w", key, err)
	}
	return nil
}

// Del removes key. Deleting an absent key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("localstore: del %s: %w", key, err)
	}
	return nil
}

// ScanRange returns every key (without the namespace prefix) starting with
// prefix, in ascending lexicographic order — the ordering the IVM View
// relies on for its own ordered scans.
func (s *Store) ScanRange(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.key(prefix) + "*"
	var out []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("localstore: scan %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// WatchCallback receives a diff entry: key, new JSON value (empty on
// delete), and whether the key was deleted.
type WatchCallback func(ctx context.Context, key, value string, deleted bool) error

// ExperimentalWatch delivers every create/update/delete under prefix to cb,
// in the order those writes are committed by whatever applied them
// (typically the poke handler applying a frame). It is named
// "experimental" in the original design because it bypasses Redis
// keyspace-notification pub/sub (unreliable under AOF rewrite) in favor of
// diffs delivered by the store's own notifying writes ([Store.SetAndNotify],
// [Store.DelAndNotify], [Store.ApplyBatch]) — ExperimentalWatch only
// registers the callback.
func (s *Store) ExperimentalWatch(prefix string, cb WatchCallback) func() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	id := len(s.watchers[prefix])
	s.watchers[prefix] = append(s.watchers[prefix], cb)
	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if id < len(s.watchers[prefix]) {
			s.watchers[prefix][id] = nil
		}
	}
}

// SetAndNotify writes value at key and synchronously invokes every watcher
// registered on a prefix of key, in registration order. The poke handler
// uses this instead of plain Set so that a frame's rows land in the store
// and reach the IVM View atomically from the caller's point of view.
func (s *Store) SetAndNotify(ctx context.Context, key, value string) error {
	if err := s.Set(ctx, key, value); err != nil {
		return err
	}
	return s.notify(ctx, key, value, false)
}

// DelAndNotify removes key and notifies watchers of the deletion.
func (s *Store) DelAndNotify(ctx context.Context, key string) error {
	if err := s.Del(ctx, key); err != nil {
		return err
	}
	return s.notify(ctx, key, "", true)
}

// Patch is one row-level write to apply as part of a [Store.ApplyBatch].
type Patch struct {
	Key     string
	Value   string
	Deleted bool
}

// ApplyBatch writes every patch through a single Redis transaction
// (MULTI/EXEC), then notifies watchers once per patch in order. This is the
// atomic merged-frame write the poke handler uses (spec.md §4.6: a poke is
// "submitted as a single atomic write to the local store"), rather than one
// Set/Del round-trip per row.
func (s *Store) ApplyBatch(ctx context.Context, patches []Patch) error {
	if len(patches) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range patches {
			if p.Deleted {
				pipe.Del(ctx, s.key(p.Key))
			} else {
				pipe.Set(ctx, s.key(p.Key), p.Value, 0)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("localstore: apply batch: %w", err)
	}

	for _, p := range patches {
		if err := s.notify(ctx, p.Key, p.Value, p.Deleted); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) notify(ctx context.Context, key, value string, deleted bool) error {
	s.watchMu.Lock()
	var matched []WatchCallback
	for prefix, cbs := range s.watchers {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, cbs...)
		}
	}
	s.watchMu.Unlock()

	for _, cb := range matched {
		if cb == nil {
			continue
		}
		if err := cb(ctx, key, value, deleted); err != nil {
			return err
		}
	}
	return nil
}
