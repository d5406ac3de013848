// Package syncutil holds small concurrency helpers shared across packages.
package syncutil

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when NewShardedMap is given a non-positive count.
const DefaultShards = 64

// ShardedMap is a string-keyed map split across a fixed number of shards,
// each guarded by its own mutex. Operations on one key are serialized;
// operations on keys in different shards never contend.
type ShardedMap[V any] struct {
	shards []mapShard[V]
}

type mapShard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// NewShardedMap creates a map with n shards.
func NewShardedMap[V any](n int) *ShardedMap[V] {
	if n <= 0 {
		n = DefaultShards
	}
	s := &ShardedMap[V]{shards: make([]mapShard[V], n)}
	for i := range s.shards {
		s.shards[i].m = make(map[string]V)
	}
	return s
}

func (s *ShardedMap[V]) shard(key string) *mapShard[V] {
	return &s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Do runs fn with the key's shard locked. fn receives the shard's backing
// map and may read or modify any entry for key. It must not retain the map.
func (s *ShardedMap[V]) Do(key string, fn func(m map[string]V)) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.m)
}

// Get returns the value stored for key.
func (s *ShardedMap[V]) Get(key string) (V, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	v, ok := sh.m[key]
	sh.mu.Unlock()
	return v, ok
}

// Delete removes key.
func (s *ShardedMap[V]) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Len counts entries across all shards. The result is approximate under
// concurrent writes.
func (s *ShardedMap[V]) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// Sweep deletes every entry for which drop returns true and reports how
// many were removed. Shards are locked one at a time.
func (s *ShardedMap[V]) Sweep(drop func(key string, v V) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, v := range sh.m {
			if drop(k, v) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
