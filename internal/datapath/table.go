package datapath

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrTableFull is returned when an insert would exceed a table's fixed
// capacity. The existing entries are untouched and updates to them keep
// succeeding; only new keys are rejected.
var ErrTableFull = errors.New("table full")

// Key is anything a Table can be indexed by. Sum32 picks the shard.
type Key interface {
	comparable
	Sum32() uint32
}

// Entry is one key/value pair copied out by Snapshot.
type Entry[K Key, V any] struct {
	Key   K
	Value V
}

type tableShard[K Key, V any] struct {
	sync.RWMutex
	entries map[K]*V
}

// Table is a fixed-capacity concurrent map sharded by key hash. Mutations
// take one shard's write lock; reads take its read lock. The size counter
// is global and atomic so the capacity bound holds across shards.
type Table[K Key, V any] struct {
	name     string
	capacity int
	shards   []*tableShard[K, V]
	size     atomic.Int64
}

// NewTable creates a table that holds at most capacity entries spread over
// the given number of shards.
func NewTable[K Key, V any](name string, capacity, shards int) *Table[K, V] {
	if shards <= 0 {
		shards = 1
	}
	t := &Table[K, V]{
		name:     name,
		capacity: capacity,
		shards:   make([]*tableShard[K, V], shards),
	}
	for i := range t.shards {
		t.shards[i] = &tableShard[K, V]{entries: make(map[K]*V)}
	}
	return t
}

func (t *Table[K, V]) shard(key K) *tableShard[K, V] {
	return t.shards[key.Sum32()%uint32(len(t.shards))]
}

// Upsert runs fn against the value stored under key, creating a zero value
// first if the key is absent. fn executes under the shard lock, so it must
// not block. created reports whether this call inserted the entry.
func (t *Table[K, V]) Upsert(key K, fn func(v *V, created bool)) error {
	s := t.shard(key)
	s.Lock()
	defer s.Unlock()

	v, ok := s.entries[key]
	if !ok {
		if t.size.Add(1) > int64(t.capacity) {
			t.size.Add(-1)
			return fmt.Errorf("%s: %w", t.name, ErrTableFull)
		}
		v = new(V)
		s.entries[key] = v
	}
	fn(v, !ok)
	return nil
}

// Update runs fn against the value stored under key if and only if the key
// is present. It never inserts, so it cannot fail on capacity. Reports
// whether the key was found.
func (t *Table[K, V]) Update(key K, fn func(v *V)) bool {
	s := t.shard(key)
	s.Lock()
	defer s.Unlock()

	v, ok := s.entries[key]
	if !ok {
		return false
	}
	fn(v)
	return true
}

// Get returns a copy of the value stored under key.
func (t *Table[K, V]) Get(key K) (V, bool) {
	s := t.shard(key)
	s.RLock()
	defer s.RUnlock()

	if v, ok := s.entries[key]; ok {
		return *v, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present.
func (t *Table[K, V]) Contains(key K) bool {
	s := t.shard(key)
	s.RLock()
	defer s.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Delete removes key if present.
func (t *Table[K, V]) Delete(key K) {
	s := t.shard(key)
	s.Lock()
	defer s.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		t.size.Add(-1)
	}
}

// Len returns the current entry count.
func (t *Table[K, V]) Len() int {
	return int(t.size.Load())
}

// Snapshot copies every entry out of the table. Each shard is read-locked
// in turn, so the result is consistent per shard but not across shards;
// counters written mid-snapshot may or may not be included.
func (t *Table[K, V]) Snapshot() []Entry[K, V] {
	out := make([]Entry[K, V], 0, t.Len())
	for _, s := range t.shards {
		s.RLock()
		for k, v := range s.entries {
			out = append(out, Entry[K, V]{Key: k, Value: *v})
		}
		s.RUnlock()
	}
	return out
}

// Reset drops every entry. Shards are cleared one at a time, so inserts
// racing with Reset may survive in shards already passed.
func (t *Table[K, V]) Reset() {
	for _, s := range t.shards {
		s.Lock()
		removed := len(s.entries)
		s.entries = make(map[K]*V)
		s.Unlock()
		t.size.Add(int64(-removed))
	}
}
