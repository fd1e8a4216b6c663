// Package store is the storage facade: it wraps an embedded ordered
// key-value engine (badger) behind the read/write/scan/flush/compact
// contract the indexing and query engines depend on. No caller outside
// this package touches badger directly.
package store

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rawblock/addrindexer/internal/schema"
)

// fullCompactionMarkerKey is written once full_compaction has completed.
// Its presence is the sole signal that bulk mode may hand off to
// incremental mode with background compaction enabled.
var fullCompactionMarkerKey = []byte{0x00, 'F', 'U', 'L', 'L', '_', 'C', 'O', 'M', 'P', 'A', 'C', 'T', 'I', 'O', 'N'}

// Error wraps any failure surfaced by the backing engine. Callers
// propagate it unchanged; the taxonomy lets the main loop distinguish it
// from daemon/query errors.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Reader is the minimal read-only contract: the persistent store and the
// in-memory mempool store both satisfy it, letting the query engine work
// against either without caring which it has.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Scan(prefix []byte) ([]schema.Row, error)
}

// Store is the full read/write/compact contract. Only the persistent
// store implements it; the mempool shadow store is Reader-only plus its
// own Add/Remove (see internal/mempool).
type Store interface {
	Reader
	Write(rows []schema.Row) error
	Flush() error
	FullCompaction() error
	IsFullyCompacted() (bool, error)
	EnableCompaction()
	Close() error
}

type badgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. lowMemory shrinks write
// buffers and memtable count, used for the slower JSON-RPC bulk-import
// path where peak throughput matters less than footprint.
func Open(path string, lowMemory bool) (Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if lowMemory {
		opts = opts.
			WithMemTableSize(16 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithValueLogFileSize(64 << 20)
	}
	// Badger's level compaction runs from open; L0 is not compacted on
	// close. Value-log GC starts only when EnableCompaction is called.
	opts = opts.WithCompactL0OnClose(false)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &Error{Op: "open", Cause: err}
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, &Error{Op: "get", Cause: err}
	}
	return value, nil
}

// Scan returns every row whose key starts with prefix, in lexicographic
// order — badger's iterator already walks keys in that order, so this is
// a direct seek-and-walk with no in-memory sort.
func (s *badgerStore) Scan(prefix []byte) ([]schema.Row, error) {
	var rows []schema.Row
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := make([]byte, len(item.Key()))
			copy(key, item.Key())
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rows = append(rows, schema.Row{Key: key, Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "scan", Cause: err}
	}
	return rows, nil
}

// Write stages rows into one atomic batch. Badger enforces a maximum
// per-transaction byte budget; large bulk-indexer batches are chunked by
// callers (see internal/bulk) rather than here, so this stays a single
// WriteBatch call per invocation.
func (s *badgerStore) Write(rows []schema.Row) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, row := range rows {
		value := row.Value
		if value == nil {
			value = []byte{}
		}
		if err := wb.Set(row.Key, value); err != nil {
			return &Error{Op: "write", Cause: err}
		}
	}
	if err := wb.Flush(); err != nil {
		return &Error{Op: "write", Cause: err}
	}
	return nil
}

func (s *badgerStore) Flush() error {
	// WriteBatch.Flush above already durably commits; Sync forces the
	// value log and manifest to disk for callers that need a hard
	// durability boundary (end of an index.update batch).
	if err := s.db.Sync(); err != nil {
		return &Error{Op: "flush", Cause: err}
	}
	return nil
}

// FullCompaction blocks until the store is compacted bottom-up into a
// single level, then writes the completion marker. It is one-shot: bulk
// mode calls it exactly once, after which EnableCompaction may run.
func (s *badgerStore) FullCompaction() error {
	if err := s.db.Flatten(4); err != nil {
		return &Error{Op: "full_compaction", Cause: err}
	}
	if err := s.Write([]schema.Row{{Key: fullCompactionMarkerKey, Value: []byte{1}}}); err != nil {
		return err
	}
	return s.Flush()
}

func (s *badgerStore) IsFullyCompacted() (bool, error) {
	value, err := s.Get(fullCompactionMarkerKey)
	if err != nil {
		return false, err
	}
	return bytes.Equal(value, []byte{1}), nil
}

// EnableCompaction turns on badger's background GC ticker. Badger runs
// its own level compaction automatically once opened; this starts the
// value-log GC loop that the one-shot bulk path intentionally defers
// until after FullCompaction so a half-compacted store never looks done.
func (s *badgerStore) EnableCompaction() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}()
}

func (s *badgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &Error{Op: "close", Cause: err}
	}
	return nil
}
