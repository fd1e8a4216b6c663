// Package schema defines the binary row layout that maps blockchain
// entities onto the ordered key-value store: the I (spend), O (funding),
// T (txid resolution), B (block header) and L (sentinel) row families
// described in the row schema design.
package schema

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Row family discriminators. Each is the first byte of the row's key so a
// scan(prefix) over any sub-family never crosses into another family.
const (
	FamilyTxIn  byte = 'I'
	FamilyTxOut byte = 'O'
	FamilyTx    byte = 'T'
	FamilyBlock byte = 'B'
	FamilyTip   byte = 'L'
)

// HashPrefix is the leading 8 bytes of a 32-byte hash, used as a compact
// fingerprint inside I and O rows. Collisions are expected and are
// resolved by the query engine via the T row.
type HashPrefix [8]byte

// Prefix returns the first 8 bytes of a full hash.
func Prefix(h chainhash.Hash) HashPrefix {
	var p HashPrefix
	copy(p[:], h[:8])
	return p
}

// Row is a single key/value pair as stored in (or read from) the backing
// key-value engine.
type Row struct {
	Key   []byte
	Value []byte
}

// TipKey is the single-byte key of the L sentinel row.
func TipKey() []byte {
	return []byte{FamilyTip}
}

// BlockKey builds the key of a B row: 'B' || block_hash(32).
func BlockKey(blockHash chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = FamilyBlock
	copy(key[1:], blockHash[:])
	return key
}

// TxInRow is the key-only 'I' row recording that some transaction spends
// (prevTxid, prevVout).
//
// Key layout: 'I' || prev_txid_prefix(8) || prev_vout(u16 LE) || spender_txid_prefix(8)
type TxInRow struct {
	PrevTxidPrefix    HashPrefix
	PrevVout          uint16
	SpenderTxidPrefix HashPrefix
}

// NewTxInRow builds the I row recorded when spenderTxid spends
// (prevTxid, prevVout).
func NewTxInRow(spenderTxid, prevTxid chainhash.Hash, prevVout uint32) (Row, error) {
	vout, err := narrowVout(prevVout)
	if err != nil {
		return Row{}, fmt.Errorf("txin row: %w", err)
	}
	key := make([]byte, 1+8+2+8)
	key[0] = FamilyTxIn
	prevPrefix := Prefix(prevTxid)
	copy(key[1:9], prevPrefix[:])
	binary.LittleEndian.PutUint16(key[9:11], vout)
	spenderPrefix := Prefix(spenderTxid)
	copy(key[11:19], spenderPrefix[:])
	return Row{Key: key}, nil
}

// TxInFilter builds the scan prefix that finds every I row recording a
// spend of (prevTxid, vout): 'I' || prev_txid_prefix(8) || vout(u16 LE).
func TxInFilter(prevTxid chainhash.Hash, vout uint32) ([]byte, error) {
	v, err := narrowVout(vout)
	if err != nil {
		return nil, fmt.Errorf("txin filter: %w", err)
	}
	prefix := make([]byte, 1+8+2)
	prefix[0] = FamilyTxIn
	p := Prefix(prevTxid)
	copy(prefix[1:9], p[:])
	binary.LittleEndian.PutUint16(prefix[9:11], v)
	return prefix, nil
}

// DecodeTxInRow parses a full I row key back into its components.
func DecodeTxInRow(key []byte) (TxInRow, error) {
	if len(key) != 19 || key[0] != FamilyTxIn {
		return TxInRow{}, fmt.Errorf("decode txin row: bad key length/family")
	}
	var row TxInRow
	copy(row.PrevTxidPrefix[:], key[1:9])
	row.PrevVout = binary.LittleEndian.Uint16(key[9:11])
	copy(row.SpenderTxidPrefix[:], key[11:19])
	return row, nil
}

// TxOutRow is the key-only 'O' row recording that txid's output vout pays
// to a given script.
//
// Key layout: 'O' || script_hash_prefix(8) || funding_txid_prefix(8) || vout(u16 LE)
type TxOutRow struct {
	ScriptHashPrefix  HashPrefix
	FundingTxidPrefix HashPrefix
	Vout              uint16
}

// NewTxOutRow builds the O row recorded when txid's output vout pays to
// scriptHash.
func NewTxOutRow(txid chainhash.Hash, vout uint32, scriptHash [32]byte) (Row, error) {
	v, err := narrowVout(vout)
	if err != nil {
		return Row{}, fmt.Errorf("txout row: %w", err)
	}
	key := make([]byte, 1+8+8+2)
	key[0] = FamilyTxOut
	var sp HashPrefix
	copy(sp[:], scriptHash[:8])
	copy(key[1:9], sp[:])
	tp := Prefix(txid)
	copy(key[9:17], tp[:])
	binary.LittleEndian.PutUint16(key[17:19], v)
	return Row{Key: key}, nil
}

// TxOutFilter builds the scan prefix that finds every O row funding
// scriptHash: 'O' || script_hash_prefix(8).
func TxOutFilter(scriptHash [32]byte) []byte {
	prefix := make([]byte, 1+8)
	prefix[0] = FamilyTxOut
	copy(prefix[1:], scriptHash[:8])
	return prefix
}

// DecodeTxOutRow parses a full O row key back into its components.
func DecodeTxOutRow(key []byte) (TxOutRow, error) {
	if len(key) != 19 || key[0] != FamilyTxOut {
		return TxOutRow{}, fmt.Errorf("decode txout row: bad key length/family")
	}
	var row TxOutRow
	copy(row.ScriptHashPrefix[:], key[1:9])
	copy(row.FundingTxidPrefix[:], key[9:17])
	row.Vout = binary.LittleEndian.Uint16(key[17:19])
	return row, nil
}

// TxRow resolves a full txid to its confirming block hash.
//
// Key layout: 'T' || txid(32)    Value: block_hash(32)
type TxRow struct {
	Txid      chainhash.Hash
	BlockHash chainhash.Hash
}

// NewTxRow builds the T row for a confirmed transaction.
func NewTxRow(txid, blockHash chainhash.Hash) Row {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = FamilyTx
	copy(key[1:], txid[:])
	value := make([]byte, chainhash.HashSize)
	copy(value, blockHash[:])
	return Row{Key: key, Value: value}
}

// TxFilterPrefix builds the scan prefix that finds T rows whose txid
// starts with the given 8-byte fingerprint. Candidate matches must still
// be checked against the full txid stored in the key.
func TxFilterPrefix(p HashPrefix) []byte {
	prefix := make([]byte, 1+8)
	prefix[0] = FamilyTx
	copy(prefix[1:], p[:])
	return prefix
}

// TxFilterFull builds the exact key of the T row for a known full txid.
func TxFilterFull(txid chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = FamilyTx
	copy(key[1:], txid[:])
	return key
}

// DecodeTxRow parses a full T row (key + value) back into its components.
func DecodeTxRow(key, value []byte) (TxRow, error) {
	if len(key) != 1+chainhash.HashSize || key[0] != FamilyTx {
		return TxRow{}, fmt.Errorf("decode tx row: bad key length/family")
	}
	if len(value) != chainhash.HashSize {
		return TxRow{}, fmt.Errorf("decode tx row: bad value length")
	}
	var row TxRow
	copy(row.Txid[:], key[1:])
	copy(row.BlockHash[:], value)
	return row, nil
}

func narrowVout(vout uint32) (uint16, error) {
	if vout >= 1<<16 {
		return 0, fmt.Errorf("vout %d exceeds u16 range", vout)
	}
	return uint16(vout), nil
}
