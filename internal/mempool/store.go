// Package mempool maintains the ephemeral shadow index of unconfirmed
// activity: a sorted map from row key to a stack of row values, refreshed
// each tick by diffing the daemon's mempool against what was seen last.
package mempool

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/rawblock/addrindexer/internal/schema"
)

// Store is the mempool's in-memory shadow of the persistent row schema.
// Unlike the persistent store, each key maps to a stack of values rather
// than a single value, because multiple pending transactions can collide
// on the same fingerprint key before any of them confirm. Get and Scan
// return the stack's tip (the latest insertion) — callers colliding on a
// key shadow one another, a preserved quirk of the upstream behavior (see
// DESIGN.md).
//
// Ordering is provided by a google/btree.BTree keyed on the row key
// bytes, since scan(prefix) requires the same lexicographic-order
// guarantee the persistent store gives and a plain Go map cannot.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*entry]
}

type entry struct {
	key    []byte
	values [][]byte // stack; last element is the tip
}

func entryLess(a, b *entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// New creates an empty mempool shadow store.
func New() *Store {
	return &Store{tree: btree.NewG[*entry](32, entryLess)}
}

// Add indexes rows produced for a just-seen transaction, pushing each
// row's value onto its key's stack.
func (s *Store) Add(rows []schema.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.pushLocked(row.Key, row.Value)
	}
}

func (s *Store) pushLocked(key, value []byte) {
	probe := &entry{key: key}
	if existing, ok := s.tree.Get(probe); ok {
		existing.values = append(existing.values, value)
		return
	}
	s.tree.ReplaceOrInsert(&entry{key: key, values: [][]byte{value}})
}

// Remove pops the tip of each row's key stack. The popped value must
// equal the row's recorded value — any mismatch indicates the caller is
// asking to remove a row it never added, a bug serious enough to
// terminate the process rather than silently desync the index.
func (s *Store) Remove(rows []schema.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.popLocked(row.Key, row.Value)
	}
}

func (s *Store) popLocked(key, value []byte) {
	probe := &entry{key: key}
	existing, ok := s.tree.Get(probe)
	if !ok || len(existing.values) == 0 {
		panic(fmt.Sprintf("mempool: remove of missing key %x: internal state corruption", key))
	}
	tip := existing.values[len(existing.values)-1]
	if !bytes.Equal(tip, value) {
		panic(fmt.Sprintf("mempool: remove value mismatch for key %x: stack tip %x != expected %x", key, tip, value))
	}
	existing.values = existing.values[:len(existing.values)-1]
	if len(existing.values) == 0 {
		s.tree.Delete(existing)
	}
}

// Get returns the tip value for key, or nil if key is not present.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tree.Get(&entry{key: key})
	if !ok {
		return nil, nil
	}
	return e.values[len(e.values)-1], nil
}

// Scan returns the tip value of every key starting with prefix, in
// lexicographic key order — the same contract the persistent store's
// Scan honors, so the query engine can treat both as a schema.Reader.
func (s *Store) Scan(prefix []byte) ([]schema.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []schema.Row
	s.tree.AscendGreaterOrEqual(&entry{key: prefix}, func(e *entry) bool {
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		rows = append(rows, schema.Row{Key: e.key, Value: e.values[len(e.values)-1]})
		return true
	})
	return rows, nil
}

// Len reports the number of distinct keys currently tracked, for metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}
