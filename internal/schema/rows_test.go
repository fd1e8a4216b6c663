package schema

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func mustHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestTxInRowRoundTrip(t *testing.T) {
	spender := mustHash(0x01)
	prev := mustHash(0x02)

	row, err := NewTxInRow(spender, prev, 7)
	if err != nil {
		t.Fatalf("NewTxInRow: %v", err)
	}

	decoded, err := DecodeTxInRow(row.Key)
	if err != nil {
		t.Fatalf("DecodeTxInRow: %v", err)
	}

	if decoded.PrevVout != 7 {
		t.Errorf("expected vout 7, got %d", decoded.PrevVout)
	}
	if decoded.PrevTxidPrefix != Prefix(prev) {
		t.Errorf("prev txid prefix mismatch")
	}
	if decoded.SpenderTxidPrefix != Prefix(spender) {
		t.Errorf("spender txid prefix mismatch")
	}
}

func TestTxInFilterMatchesRowPrefix(t *testing.T) {
	spender := mustHash(0x03)
	prev := mustHash(0x04)

	row, err := NewTxInRow(spender, prev, 2)
	if err != nil {
		t.Fatalf("NewTxInRow: %v", err)
	}
	filter, err := TxInFilter(prev, 2)
	if err != nil {
		t.Fatalf("TxInFilter: %v", err)
	}
	if !bytes.HasPrefix(row.Key, filter) {
		t.Errorf("row key %x does not start with filter %x", row.Key, filter)
	}
}

func TestTxInRowRejectsOversizeVout(t *testing.T) {
	spender := mustHash(0x05)
	prev := mustHash(0x06)
	if _, err := NewTxInRow(spender, prev, 1<<16); err == nil {
		t.Errorf("expected error for vout >= 65536")
	}
}

func TestTxOutRowRoundTrip(t *testing.T) {
	txid := mustHash(0x07)
	scriptHash := ScriptHash([]byte("OP_DUP OP_HASH160 fakehash OP_EQUALVERIFY OP_CHECKSIG"))

	row, err := NewTxOutRow(txid, 1, scriptHash)
	if err != nil {
		t.Fatalf("NewTxOutRow: %v", err)
	}
	decoded, err := DecodeTxOutRow(row.Key)
	if err != nil {
		t.Fatalf("DecodeTxOutRow: %v", err)
	}
	if decoded.Vout != 1 {
		t.Errorf("expected vout 1, got %d", decoded.Vout)
	}
	if decoded.FundingTxidPrefix != Prefix(txid) {
		t.Errorf("funding txid prefix mismatch")
	}
	var wantPrefix HashPrefix
	copy(wantPrefix[:], scriptHash[:8])
	if decoded.ScriptHashPrefix != wantPrefix {
		t.Errorf("script hash prefix mismatch")
	}
}

func TestTxOutFilterMatchesRowPrefix(t *testing.T) {
	txid := mustHash(0x08)
	scriptHash := ScriptHash([]byte("script-a"))
	row, err := NewTxOutRow(txid, 0, scriptHash)
	if err != nil {
		t.Fatalf("NewTxOutRow: %v", err)
	}
	filter := TxOutFilter(scriptHash)
	if !bytes.HasPrefix(row.Key, filter) {
		t.Errorf("row key %x does not start with filter %x", row.Key, filter)
	}
}

func TestTxRowRoundTrip(t *testing.T) {
	txid := mustHash(0x09)
	blockHash := mustHash(0x0a)

	row := NewTxRow(txid, blockHash)
	decoded, err := DecodeTxRow(row.Key, row.Value)
	if err != nil {
		t.Fatalf("DecodeTxRow: %v", err)
	}
	if decoded.Txid != txid {
		t.Errorf("txid mismatch")
	}
	if decoded.BlockHash != blockHash {
		t.Errorf("block hash mismatch")
	}
}

func TestTxFilterPrefixMatchesFullKey(t *testing.T) {
	txid := mustHash(0x0b)
	full := TxFilterFull(txid)
	prefixFilter := TxFilterPrefix(Prefix(txid))
	if !bytes.HasPrefix(full, prefixFilter) {
		t.Errorf("full key %x does not start with prefix filter %x", full, prefixFilter)
	}
}

// TestCollisionSafety models two distinct txids sharing the same 8-byte
// prefix: the O row alone cannot disambiguate them, but the T row (full
// txid) always can.
func TestCollisionSafety(t *testing.T) {
	var a, b chainhash.Hash
	for i := 0; i < 8; i++ {
		a[i] = 0xAA
		b[i] = 0xAA
	}
	a[31] = 0x01
	b[31] = 0x02

	if Prefix(a) != Prefix(b) {
		t.Fatalf("test setup invalid: prefixes must collide")
	}
	if a == b {
		t.Fatalf("test setup invalid: full hashes must differ")
	}

	scriptHash := ScriptHash([]byte("owner-of-a"))
	rowA, err := NewTxOutRow(a, 0, scriptHash)
	if err != nil {
		t.Fatalf("NewTxOutRow: %v", err)
	}

	decoded, err := DecodeTxOutRow(rowA.Key)
	if err != nil {
		t.Fatalf("DecodeTxOutRow: %v", err)
	}

	// A query resolving funding_txid_prefix must re-check the T row to
	// land on 'a' and filter out the colliding 'b'.
	txRowA := NewTxRow(a, mustHash(0x20))
	decodedTxA, err := DecodeTxRow(txRowA.Key, txRowA.Value)
	if err != nil {
		t.Fatalf("DecodeTxRow: %v", err)
	}
	if Prefix(decodedTxA.Txid) != decoded.FundingTxidPrefix {
		t.Errorf("resolved txid prefix does not match O row's funding prefix")
	}
	if decodedTxA.Txid != a {
		t.Errorf("resolution picked the wrong txid despite prefix collision")
	}
}
