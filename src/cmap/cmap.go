// Package cmap contains a thread-safe sharded map.
//
// Unlike sync.Map it allows callers to apply a read-modify-write to a single key
// atomically, which is what per-document state machines need: the decision of
// whether to start a run and the state change that records it must happen under
// the same lock. Unrelated keys live in different shards and so don't contend.
package cmap

import (
	"fmt"
	"sync"
)

// DefaultShardCount is a reasonable default shard count for maps that hold one
// entry per open document.
const DefaultShardCount = 1 << 4

// A Map is the top-level map type. All functions on it are threadsafe.
// It should be constructed via New() rather than creating an instance directly.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	hasher func(K) uint64
	mask   uint64
}

// New creates a new Map using the given hasher to hash items in it.
// The shard count must be a power of 2; it will panic if not.
func New[K comparable, V any](shardCount uint64, hasher func(K) uint64) *Map[K, V] {
	mask := shardCount - 1
	if shardCount == 0 || (shardCount&mask) != 0 {
		panic(fmt.Sprintf("Shard count %d is not a power of 2", shardCount))
	}
	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   mask,
		hasher: hasher,
	}
	for i := range m.shards {
		m.shards[i].m = map[K]V{}
	}
	return m
}

func (m *Map[K, V]) shard(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&m.mask]
}

// Get returns the value for a key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.shard(key).Get(key)
}

// Set is the equivalent of `map[key] = val`.
func (m *Map[K, V]) Set(key K, val V) {
	m.shard(key).Set(key, val)
}

// Compute applies f to the current value for key (the zero value and false if it's
// not present) and stores whatever it returns. f runs with the key's shard locked,
// so it must not call back into the map.
// It returns the value that was stored.
func (m *Map[K, V]) Compute(key K, f func(val V, present bool) V) V {
	return m.shard(key).Compute(key, f)
}

// Delete removes a key from the map. It returns true if the key was present.
func (m *Map[K, V]) Delete(key K) bool {
	return m.shard(key).Delete(key)
}

// DeleteIf removes a key if it is present and f returns true for its value.
// As with Compute, f runs with the shard locked. It returns true if the key was removed.
func (m *Map[K, V]) DeleteIf(key K, f func(val V) bool) bool {
	return m.shard(key).DeleteIf(key, f)
}

// Keys returns a slice of all the current keys in the map.
// No particular ordering or consistency guarantees are made.
func (m *Map[K, V]) Keys() []K {
	ret := []K{}
	for i := range m.shards {
		ret = append(ret, m.shards[i].Keys()...)
	}
	return ret
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		n += m.shards[i].Len()
	}
	return n
}

// A shard is one of the individual shards of a map.
type shard[K comparable, V any] struct {
	m map[K]V
	l sync.Mutex
}

func (s *shard[K, V]) Get(key K) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *shard[K, V]) Set(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	s.m[key] = val
}

func (s *shard[K, V]) Compute(key K, f func(V, bool) V) V {
	s.l.Lock()
	defer s.l.Unlock()
	v, present := s.m[key]
	v = f(v, present)
	s.m[key] = v
	return v
}

func (s *shard[K, V]) Delete(key K) bool {
	s.l.Lock()
	defer s.l.Unlock()
	_, present := s.m[key]
	delete(s.m, key)
	return present
}

func (s *shard[K, V]) DeleteIf(key K, f func(V) bool) bool {
	s.l.Lock()
	defer s.l.Unlock()
	if v, present := s.m[key]; present && f(v) {
		delete(s.m, key)
		return true
	}
	return false
}

func (s *shard[K, V]) Keys() []K {
	s.l.Lock()
	defer s.l.Unlock()
	ret := make([]K, 0, len(s.m))
	for k := range s.m {
		ret = append(ret, k)
	}
	return ret
}

func (s *shard[K, V]) Len() int {
	s.l.Lock()
	defer s.l.Unlock()
	return len(s.m)
}
