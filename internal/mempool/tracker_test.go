package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/schema"
)

type fakeDaemon struct {
	mempool map[chainhash.Hash]*wire.MsgTx
}

func (f *fakeDaemon) GetMempoolTxids() (map[chainhash.Hash]struct{}, error) {
	set := make(map[chainhash.Hash]struct{}, len(f.mempool))
	for txid := range f.mempool {
		set[txid] = struct{}{}
	}
	return set, nil
}

func (f *fakeDaemon) GetMempoolEntry(txid chainhash.Hash) (*btcjson.GetMempoolEntryResult, error) {
	return &btcjson.GetMempoolEntryResult{}, nil
}

func (f *fakeDaemon) GetTransactions(txids []chainhash.Hash) ([]*wire.MsgTx, error) {
	out := make([]*wire.MsgTx, len(txids))
	for i, txid := range txids {
		out[i] = f.mempool[txid]
	}
	return out, nil
}

func simpleTx(outScript []byte, nonce uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1000, outScript))
	tx.LockTime = nonce // vary txid across calls
	return tx
}

func TestTrackerUpdateIsIdempotent(t *testing.T) {
	tx := simpleTx([]byte("script-a"), 1)
	fake := &fakeDaemon{mempool: map[chainhash.Hash]*wire.MsgTx{tx.TxHash(): tx}}
	tracker := NewTracker(fake)

	if err := tracker.Update(); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	sizeAfterFirst := tracker.Size()
	keysAfterFirst := tracker.Index.Len()

	if err := tracker.Update(); err != nil {
		t.Fatalf("second Update: %v", err)
	}

	if tracker.Size() != sizeAfterFirst {
		t.Errorf("size changed across idempotent update: %d -> %d", sizeAfterFirst, tracker.Size())
	}
	if tracker.Index.Len() != keysAfterFirst {
		t.Errorf("index key count changed across idempotent update: %d -> %d", keysAfterFirst, tracker.Index.Len())
	}
}

func TestTrackerUpdateRemovesDroppedTx(t *testing.T) {
	tx := simpleTx([]byte("script-b"), 2)
	fake := &fakeDaemon{mempool: map[chainhash.Hash]*wire.MsgTx{tx.TxHash(): tx}}
	tracker := NewTracker(fake)

	if err := tracker.Update(); err != nil {
		t.Fatalf("Update with tx present: %v", err)
	}
	if tracker.Size() != 1 {
		t.Fatalf("expected 1 tracked tx, got %d", tracker.Size())
	}

	delete(fake.mempool, tx.TxHash())
	if err := tracker.Update(); err != nil {
		t.Fatalf("Update after tx dropped: %v", err)
	}
	if tracker.Size() != 0 {
		t.Errorf("expected tx removed, still tracking %d", tracker.Size())
	}
	if tracker.Index.Len() != 0 {
		t.Errorf("expected index drained, still has %d keys", tracker.Index.Len())
	}
}

// TestStoreGetReturnsStackTip documents the preserved tip-wins quirk: two
// pending insertions colliding on the same key shadow each other, and
// only the most recent is visible until it is popped.
func TestStoreGetReturnsStackTip(t *testing.T) {
	s := New()
	key := []byte("Ifingerprint")
	first := []byte("first-value")
	second := []byte("second-value")

	s.Add([]schema.Row{{Key: key, Value: first}})
	s.Add([]schema.Row{{Key: key, Value: second}})

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(second) {
		t.Errorf("expected tip value %q, got %q", second, got)
	}

	s.Remove([]schema.Row{{Key: key, Value: second}})
	got, err = s.Get(key)
	if err != nil {
		t.Fatalf("Get after pop: %v", err)
	}
	if string(got) != string(first) {
		t.Errorf("expected shadowed value %q to resurface, got %q", first, got)
	}

	s.Remove([]schema.Row{{Key: key, Value: first}})
	if got, _ := s.Get(key); got != nil {
		t.Errorf("expected key removed once stack drained, got %q", got)
	}
}

func TestStoreRemoveMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on value mismatch")
		}
	}()
	s := New()
	key := []byte("Ifingerprint2")
	s.Add([]schema.Row{{Key: key, Value: []byte("a")}})
	s.Remove([]schema.Row{{Key: key, Value: []byte("not-a")}})
}
