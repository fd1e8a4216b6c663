package mempool

import (
	"log"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/schema"
)

// Tracker keeps items (txid -> tx) and the Store shadow index in sync
// with the daemon's mempool, diffing each tick.
type Tracker struct {
	mu    sync.RWMutex
	items map[chainhash.Hash]*wire.MsgTx
	Index *Store

	daemon Daemon
}

// Daemon narrows the daemon client to exactly what Update uses, letting
// tests supply a fake without a full *daemon.Client.
type Daemon interface {
	GetMempoolTxids() (map[chainhash.Hash]struct{}, error)
	GetMempoolEntry(txid chainhash.Hash) (*btcjson.GetMempoolEntryResult, error)
	GetTransactions(txids []chainhash.Hash) ([]*wire.MsgTx, error)
}

// NewTracker creates an empty tracker against the given daemon handle.
func NewTracker(d Daemon) *Tracker {
	return &Tracker{
		items:  make(map[chainhash.Hash]*wire.MsgTx),
		Index:  New(),
		daemon: d,
	}
}

// add indexes tx with the zero block hash and pushes onto each key's
// stack; see Store.Add.
func (t *Tracker) add(tx *wire.MsgTx) error {
	rows, err := schema.IndexTx(tx)
	if err != nil {
		return err
	}
	t.Index.Add(rows)
	t.items[tx.TxHash()] = tx
	return nil
}

// remove pops the tip of each key's stack; a mismatch or missing key is a
// fatal invariant violation inside Store.Remove (it panics).
func (t *Tracker) remove(tx *wire.MsgTx) error {
	rows, err := schema.IndexTx(tx)
	if err != nil {
		return err
	}
	t.Index.Remove(rows)
	delete(t.items, tx.TxHash())
	return nil
}

// Update diffs the daemon's current mempool against items and applies
// the difference. A failed batch transaction fetch aborts the whole
// cycle and preserves prior state so the next tick retries cleanly — the
// one place update is uniquely permissive to daemon trouble.
func (t *Tracker) Update() error {
	newSet, err := t.daemon.GetMempoolTxids()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var toFetch []chainhash.Hash
	for txid := range newSet {
		if _, seen := t.items[txid]; !seen {
			if _, err := t.daemon.GetMempoolEntry(txid); err != nil {
				// Best-effort: the tx may have confirmed or been
				// replaced between listing and entry lookup. Defer to
				// next cycle rather than failing the whole update.
				log.Printf("[mempool] getmempoolentry(%s): %v (deferred)", txid, err)
				continue
			}
			toFetch = append(toFetch, txid)
		}
	}

	if len(toFetch) > 0 {
		txs, err := t.daemon.GetTransactions(toFetch)
		if err != nil {
			// Abort this cycle entirely; items is untouched and the
			// next tick retries.
			log.Printf("[mempool] gettransactions: %v (cycle aborted)", err)
			return nil
		}
		for i, tx := range txs {
			if tx.TxHash() != toFetch[i] {
				panic("mempool: fetched transaction txid does not match requested txid")
			}
			if err := t.add(tx); err != nil {
				return err
			}
		}
	}

	for txid, tx := range t.items {
		if _, stillPresent := newSet[txid]; !stillPresent {
			if err := t.remove(tx); err != nil {
				return err
			}
		}
	}

	return nil
}

// Size returns the number of transactions currently tracked.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Has reports whether txid is currently tracked, for query composition.
func (t *Tracker) Has(txid chainhash.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.items[txid]
	return ok
}
