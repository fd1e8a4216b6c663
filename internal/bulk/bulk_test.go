package bulk

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/schema"
	"github.com/rawblock/addrindexer/internal/store"
	"github.com/rawblock/addrindexer/internal/waiter"
)

func writeBlkFile(t *testing.T, dir, name string, blocks []*wire.MsgBlock, net wire.BitcoinNet) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var buf bytes.Buffer
	for _, b := range blocks {
		var body bytes.Buffer
		if err := b.Serialize(&body); err != nil {
			t.Fatalf("serialize block: %v", err)
		}
		var header [8]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(net))
		binary.LittleEndian.PutUint32(header[4:8], uint32(body.Len()))
		buf.Write(header[:])
		buf.Write(body.Bytes())
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write blk file: %v", err)
	}
	return path
}

func makeBlock(prev chainhash.Hash, nonce uint32) *wire.MsgBlock {
	header := wire.BlockHeader{
		Version:   1,
		PrevBlock: prev,
		Nonce:     nonce,
	}
	block := wire.NewMsgBlock(&header)
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}})
	coinbase.AddTxOut(wire.NewTxOut(5000000000, []byte{0x51}))
	block.AddTransaction(coinbase)
	return block
}

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
func (m *memStore) Flush() error              { return nil }
func (m *memStore) FullCompaction() error     { return nil }
func (m *memStore) IsFullyCompacted() (bool, error) { return true, nil }
func (m *memStore) EnableCompaction()         {}
func (m *memStore) Close() error              { return nil }

var _ store.Store = (*memStore)(nil)

func TestIndexSkipsOrphanBlocks(t *testing.T) {
	dir := t.TempDir()
	genesis := chainhash.Hash{}
	onChain := makeBlock(genesis, 1)
	orphan := makeBlock(genesis, 2)
	writeBlkFile(t, dir, "blk00000.dat", []*wire.MsgBlock{onChain, orphan}, chaincfg.MainNetParams.Net)

	membership := NewHashSetMembership(map[chainhash.Hash]struct{}{
		onChain.BlockHash(): {},
	})
	s := &memStore{}
	w := waiter.Start()

	written, err := Index(dir, &chaincfg.MainNetParams, s, membership, 2, w)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if written == 0 {
		t.Errorf("expected a nonzero row count written")
	}

	tipValue, err := s.Get(schema.TipKey())
	if err != nil {
		t.Fatalf("Get tip: %v", err)
	}
	var gotTip chainhash.Hash
	copy(gotTip[:], tipValue)
	if gotTip != onChain.BlockHash() {
		t.Errorf("expected tip %s, got %s", onChain.BlockHash(), gotTip)
	}

	rows, err := s.Scan([]byte{schema.FamilyBlock})
	if err != nil {
		t.Fatalf("Scan B rows: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected exactly 1 B row (orphan skipped), got %d", len(rows))
	}
}

func TestIndexEmptyDirIsNoop(t *testing.T) {
	dir := t.TempDir()
	membership := NewHashSetMembership(map[chainhash.Hash]struct{}{})
	s := &memStore{}
	w := waiter.Start()

	written, err := Index(dir, &chaincfg.MainNetParams, s, membership, 1, w)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if written != 0 || len(s.rows) != 0 {
		t.Errorf("expected no rows written, got %d (store has %d)", written, len(s.rows))
	}
}
