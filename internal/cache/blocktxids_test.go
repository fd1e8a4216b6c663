package cache

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func hashByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func twoTxids(a, b byte) []chainhash.Hash {
	return []chainhash.Hash{hashByte(a), hashByte(b)}
}

func TestBlockTxIDsEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewBlockTxIDs(200) // ~2 entries of cost 96 each fit; a 3rd evicts the oldest

	b1, b2, b3 := hashByte(1), hashByte(2), hashByte(3)

	c.Put(b1, twoTxids(0x11, 0x12))
	if _, ok := c.Get(b1); !ok {
		t.Fatalf("get(b1) miss 1")
	}

	c.Put(b2, twoTxids(0x21, 0x22))
	c.Put(b3, twoTxids(0x31, 0x32))

	if c.Usage() > 200 {
		t.Errorf("usage %d exceeds capacity 200", c.Usage())
	}

	if _, ok := c.Get(b1); ok {
		t.Errorf("expected b1 evicted")
	}
	if _, ok := c.Get(b2); !ok {
		t.Errorf("expected b2 still present")
	}
	if _, ok := c.Get(b3); !ok {
		t.Errorf("expected b3 still present")
	}
}

func TestBlockTxIDsOversizeInsertionDropped(t *testing.T) {
	c := NewBlockTxIDs(100)
	before := c.Usage()

	huge := make([]chainhash.Hash, 100) // cost way over capacity
	c.Put(hashByte(9), huge)

	if c.Usage() != before {
		t.Errorf("expected cache unchanged after oversize insertion, usage=%d before=%d", c.Usage(), before)
	}
	if _, ok := c.Get(hashByte(9)); ok {
		t.Errorf("expected oversize entry not stored")
	}
}

func TestBlockTxIDsGetOrElseMemoizes(t *testing.T) {
	c := NewBlockTxIDs(1 << 20)
	calls := 0
	load := func() ([]chainhash.Hash, error) {
		calls++
		return twoTxids(0x01, 0x02), nil
	}

	b := hashByte(5)
	if _, err := c.GetOrElse(b, load); err != nil {
		t.Fatalf("GetOrElse: %v", err)
	}
	if _, err := c.GetOrElse(b, load); err != nil {
		t.Fatalf("GetOrElse: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected load called once, got %d", calls)
	}
}

func TestBlockTxIDsGetOrElsePropagatesError(t *testing.T) {
	c := NewBlockTxIDs(1 << 20)
	wantErr := errors.New("daemon unavailable")
	_, err := c.GetOrElse(hashByte(6), func() ([]chainhash.Hash, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected propagated error, got %v", err)
	}
	if _, ok := c.Get(hashByte(6)); ok {
		t.Errorf("expected failed load not cached")
	}
}
