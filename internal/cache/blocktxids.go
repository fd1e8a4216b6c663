// Package cache implements the byte-bounded LRU over block hash -> txid
// list shared by every daemon client handle, so repeated lookups of a
// just-fetched block's transaction list don't re-hit the daemon.
package cache

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru/v2"
)

const costPerHash = chainhash.HashSize // 32

// BlockTxIDs is a threadsafe, byte-budgeted LRU. The underlying
// hashicorp/golang-lru cache is capacity-by-count; this wraps it with a
// running byte-usage counter and evicts oldest entries until usage fits
// under the configured byte capacity, since golang-lru has no native
// notion of per-entry cost.
type BlockTxIDs struct {
	mu       sync.Mutex
	lru      *lru.Cache[chainhash.Hash, []chainhash.Hash]
	capacity int64
	usage    int64
}

// NewBlockTxIDs creates a cache bounded by capacityBytes. The backing LRU
// is sized generously (capacity/costPerHash assuming empty txid lists, an
// upper bound on entry count) since the byte accounting, not the LRU's
// own count limit, is what enforces the real budget.
func NewBlockTxIDs(capacityBytes int64) *BlockTxIDs {
	maxEntries := int(capacityBytes/costPerHash) + 1
	if maxEntries < 1 {
		maxEntries = 1
	}
	c := &BlockTxIDs{capacity: capacityBytes}
	backing, _ := lru.NewWithEvict[chainhash.Hash, []chainhash.Hash](maxEntries, c.onEvict)
	c.lru = backing
	return c
}

func cost(txids []chainhash.Hash) int64 {
	return int64(costPerHash) * int64(1+len(txids))
}

func (c *BlockTxIDs) onEvict(_ chainhash.Hash, txids []chainhash.Hash) {
	c.usage -= cost(txids)
}

// Put inserts or replaces the txid list for blockHash. An insertion whose
// cost exceeds the cache's total capacity is silently dropped, and any
// existing entry for that key is left untouched.
func (c *BlockTxIDs) Put(blockHash chainhash.Hash, txids []chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entryCost := cost(txids)
	if entryCost > c.capacity {
		return
	}

	if old, ok := c.lru.Peek(blockHash); ok {
		c.usage -= cost(old)
	}

	for c.usage+entryCost > c.capacity && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}

	c.lru.Add(blockHash, txids)
	c.usage += entryCost
}

// Get returns the cached txid list for blockHash, promoting it to most
// recently used.
func (c *BlockTxIDs) Get(blockHash chainhash.Hash) ([]chainhash.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(blockHash)
}

// GetOrElse returns the cached value, or calls load to compute and cache
// it. load's error is propagated to the caller unchanged; a failed load
// is never cached.
func (c *BlockTxIDs) GetOrElse(blockHash chainhash.Hash, load func() ([]chainhash.Hash, error)) ([]chainhash.Hash, error) {
	if txids, ok := c.Get(blockHash); ok {
		return txids, nil
	}
	txids, err := load()
	if err != nil {
		return nil, err
	}
	c.Put(blockHash, txids)
	return txids, nil
}

// Usage returns the current tracked byte usage, for tests and metrics.
func (c *BlockTxIDs) Usage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}
