package incremental

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/headers"
	"github.com/rawblock/addrindexer/internal/schema"
	"github.com/rawblock/addrindexer/internal/waiter"
)

type memReader struct{ rows []schema.Row }

func (m *memReader) Get(key []byte) ([]byte, error) {
	for _, r := range m.rows {
		if bytes.Equal(r.Key, key) {
			return r.Value, nil
		}
	}
	return nil, nil
}
func (m *memReader) Scan(prefix []byte) ([]schema.Row, error) {
	var out []schema.Row
	for _, r := range m.rows {
		if bytes.HasPrefix(r.Key, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memStore struct{ memReader }

func (m *memStore) Write(rows []schema.Row) error {
	m.rows = append(m.rows, rows...)
	return nil
}
func (m *memStore) Flush() error                    { return nil }
func (m *memStore) FullCompaction() error           { return nil }
func (m *memStore) IsFullyCompacted() (bool, error) { return true, nil }
func (m *memStore) EnableCompaction()               {}
func (m *memStore) Close() error                    { return nil }

func makeBlock(prev chainhash.Hash, nonce uint32) *wire.MsgBlock {
	header := wire.BlockHeader{PrevBlock: prev, Nonce: nonce}
	block := wire.NewMsgBlock(&header)
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}})
	coinbase.AddTxOut(wire.NewTxOut(5000000000, []byte{0x51}))
	block.AddTransaction(coinbase)
	return block
}

type fakeDaemon struct {
	blocksByHash map[chainhash.Hash]*wire.MsgBlock
	headers      []*wire.BlockHeader
	tip          chainhash.Hash
}

func (f *fakeDaemon) GetBestBlockHash() (chainhash.Hash, error) { return f.tip, nil }

func (f *fakeDaemon) GetNewHeaders(local *headers.List, tip chainhash.Hash) ([]*wire.BlockHeader, error) {
	return f.headers[local.Height()+1:], nil
}

func (f *fakeDaemon) GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	out := make([]*wire.MsgBlock, len(hashes))
	for i, h := range hashes {
		out[i] = f.blocksByHash[h]
	}
	return out, nil
}

func TestUpdateIndexesAndAppliesHeaders(t *testing.T) {
	genesis := chainhash.Hash{}
	b1 := makeBlock(genesis, 1)
	b2 := makeBlock(b1.BlockHash(), 2)
	b3 := makeBlock(b2.BlockHash(), 3)

	fake := &fakeDaemon{
		blocksByHash: map[chainhash.Hash]*wire.MsgBlock{
			b1.BlockHash(): b1,
			b2.BlockHash(): b2,
			b3.BlockHash(): b3,
		},
		headers: []*wire.BlockHeader{&b1.Header, &b2.Header, &b3.Header},
		tip:     b3.BlockHash(),
	}

	hl, err := headers.Load(&memStore{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	idx := &Index{Headers: hl, Store: &memStore{}}
	w := waiter.Start()
	reconnect := func() (Daemon, error) { return fake, nil }

	written, err := Update(fake, reconnect, idx, 2, w)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if written == 0 {
		t.Errorf("expected a nonzero row count written")
	}

	if hl.Tip() != b3.BlockHash() {
		t.Errorf("expected tip %s, got %s", b3.BlockHash(), hl.Tip())
	}
	if hl.Height() != 2 {
		t.Errorf("expected height 2, got %d", hl.Height())
	}

	st := idx.Store.(*memStore)
	rows, _ := st.Scan([]byte{schema.FamilyBlock})
	if len(rows) != 3 {
		t.Errorf("expected 3 B rows, got %d", len(rows))
	}
}

func TestUpdateNoOpWhenAlreadyAtTip(t *testing.T) {
	genesis := chainhash.Hash{}
	fake := &fakeDaemon{tip: genesis}
	hl, err := headers.Load(&memStore{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	idx := &Index{Headers: hl, Store: &memStore{}}
	w := waiter.Start()
	reconnect := func() (Daemon, error) { return fake, nil }

	written, err := Update(fake, reconnect, idx, 10, w)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if written != 0 || idx.Store.(*memStore).rows != nil {
		t.Errorf("expected no rows written when tip already matches, got %d", written)
	}
}
