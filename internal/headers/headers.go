// Package headers maintains the in-memory, height-and-hash-indexed header
// chain that backs tip tracking and incremental extension.
package headers

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/schema"
	"github.com/rawblock/addrindexer/internal/store"
)

// Entry is one block's position in the chain.
type Entry struct {
	Height    int32
	BlockHash chainhash.Hash
	Header    *wire.BlockHeader
}

// List is an ordered, genesis-first sequence of Entry, indexed by both
// height and block hash, plus a tip pointer. Reads take the read lock;
// Apply takes the write lock only for the final in-memory swap.
type List struct {
	mu        sync.RWMutex
	byHeight  []Entry
	byHash    map[chainhash.Hash]int32
	tip       chainhash.Hash
}

// Load reconstructs the header chain by scanning every B row, building a
// blockhash -> header map, then walking backwards from the stored L
// sentinel via prev_blockhash until the null hash. The walked chain is
// reversed to genesis-first order. If no L row exists, Load returns an
// empty, un-tipped List.
func Load(s store.Reader) (*List, error) {
	rows, err := s.Scan([]byte{schema.FamilyBlock})
	if err != nil {
		return nil, fmt.Errorf("headers: load: scan B rows: %w", err)
	}

	byHash := make(map[chainhash.Hash]*wire.BlockHeader, len(rows))
	for _, row := range rows {
		if len(row.Key) != 1+chainhash.HashSize {
			continue
		}
		var blockHash chainhash.Hash
		copy(blockHash[:], row.Key[1:])
		header, err := schema.DeserializeHeader(row.Value)
		if err != nil {
			return nil, fmt.Errorf("headers: load: decode header %s: %w", blockHash, err)
		}
		byHash[blockHash] = header
	}

	tipValue, err := s.Get(schema.TipKey())
	if err != nil {
		return nil, fmt.Errorf("headers: load: read L sentinel: %w", err)
	}
	if len(tipValue) == 0 {
		return &List{byHash: map[chainhash.Hash]int32{}}, nil
	}
	var tip chainhash.Hash
	copy(tip[:], tipValue)

	var walked []Entry
	cur := tip
	for {
		header, ok := byHash[cur]
		if !ok {
			return nil, fmt.Errorf("headers: load: gap in chain at %s: B row missing", cur)
		}
		walked = append(walked, Entry{BlockHash: cur, Header: header})
		if header.PrevBlock == (chainhash.Hash{}) {
			break
		}
		cur = header.PrevBlock
	}

	// walked is tip-first; reverse to genesis-first and assign heights.
	n := len(walked)
	ordered := make([]Entry, n)
	hashIndex := make(map[chainhash.Hash]int32, n)
	for i, e := range walked {
		height := int32(n - 1 - i)
		e.Height = height
		ordered[height] = e
		hashIndex[e.BlockHash] = height
	}

	list := &List{byHeight: ordered, byHash: hashIndex, tip: tip}
	if list.Tip() != tip {
		return nil, fmt.Errorf("headers: load: reconstructed tip %s does not match L sentinel %s", list.Tip(), tip)
	}
	return list, nil
}

// Tip returns the current tip block hash, or the zero hash if the list is
// empty.
func (l *List) Tip() chainhash.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tip
}

// Height returns the height of the current tip, or -1 if empty.
func (l *List) Height() int32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int32(len(l.byHeight)) - 1
}

// Len returns the number of headers currently held.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byHeight)
}

// HeightOf returns the height of blockHash and whether it is known.
func (l *List) HeightOf(blockHash chainhash.Hash) (int32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.byHash[blockHash]
	return h, ok
}

// At returns the Entry at height, and whether it exists.
func (l *List) At(height int32) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if height < 0 || int(height) >= len(l.byHeight) {
		return Entry{}, false
	}
	return l.byHeight[height], true
}

// ReplaceFrom overwrites l's contents with other's, without copying
// other's mutex (a plain struct assignment would copy the lock itself,
// which vet rightly flags). Used after a bulk-indexer run rebuilds the
// chain into a throwaway List via Load.
func (l *List) ReplaceFrom(other *List) {
	other.mu.RLock()
	byHeight := other.byHeight
	byHash := other.byHash
	tip := other.tip
	other.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.byHeight = byHeight
	l.byHash = byHash
	l.tip = tip
}

// Order converts a flat slice of headers returned by the daemon into
// Entry records with consecutive heights starting at len(existing). The
// daemon is assumed to have returned only headers beyond the current tip.
func (l *List) Order(newHeaders []*wire.BlockHeader) []Entry {
	l.mu.RLock()
	start := int32(len(l.byHeight))
	l.mu.RUnlock()

	entries := make([]Entry, len(newHeaders))
	for i, header := range newHeaders {
		entries[i] = Entry{
			Height:    start + int32(i),
			BlockHash: header.BlockHash(),
			Header:    header,
		}
	}
	return entries
}

// Apply appends entries to the chain and updates the tip. It does not
// truncate or splice: entries must carry consecutive heights from the
// current length, the first must extend the current tip, and each must
// extend the one before it; otherwise Apply returns an error.
func (l *List) Apply(entries []Entry, tip chainhash.Hash) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	expectedHeight := int32(len(l.byHeight))
	prevHash := l.tip
	for i, e := range entries {
		if e.Height != expectedHeight+int32(i) {
			return fmt.Errorf("headers: apply: non-consecutive height at index %d: got %d want %d", i, e.Height, expectedHeight+int32(i))
		}
		if i == 0 {
			if len(l.byHeight) > 0 && e.Header.PrevBlock != prevHash {
				return fmt.Errorf("headers: apply: entry %d does not extend current tip: prev=%s tip=%s", i, e.Header.PrevBlock, prevHash)
			}
		} else if e.Header.PrevBlock != entries[i-1].BlockHash {
			return fmt.Errorf("headers: apply: gap between entry %d and %d", i-1, i)
		}
		l.byHeight = append(l.byHeight, e)
		l.byHash[e.BlockHash] = e.Height
	}
	l.tip = tip
	if l.byHeight[len(l.byHeight)-1].BlockHash != tip {
		return fmt.Errorf("headers: apply: final entry %s does not match reported tip %s", l.byHeight[len(l.byHeight)-1].BlockHash, tip)
	}
	return nil
}
