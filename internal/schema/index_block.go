package schema

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// IndexBlock produces the full set of rows for a confirmed block: for each
// transaction, an I row per non-null input, an O row per output, then one
// T row, and finally one B row for the block itself. Order is
// deterministic; it is not load-bearing for correctness (row keys fully
// determine position in the store) but keeps output reproducible for
// tests and for streaming into a single-writer batch.
func IndexBlock(block *wire.MsgBlock) ([]Row, error) {
	blockHash := block.BlockHash()
	var rows []Row

	for _, tx := range block.Transactions {
		txid := tx.TxHash()

		for _, in := range tx.TxIn {
			if isNullOutpoint(in.PreviousOutPoint) {
				continue // coinbase input carries no funding outpoint
			}
			row, err := NewTxInRow(txid, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}

		for vout, out := range tx.TxOut {
			scriptHash := ScriptHash(out.PkScript)
			row, err := NewTxOutRow(txid, uint32(vout), scriptHash)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}

		rows = append(rows, NewTxRow(txid, blockHash))
	}

	headerBytes, err := SerializeHeader(&block.Header)
	if err != nil {
		return nil, err
	}
	rows = append(rows, Row{Key: BlockKey(blockHash), Value: headerBytes})

	return rows, nil
}

// TipRow builds the L sentinel row pointing at the latest fully indexed
// block hash.
func TipRow(blockHash chainhash.Hash) Row {
	value := make([]byte, chainhash.HashSize)
	copy(value, blockHash[:])
	return Row{Key: TipKey(), Value: value}
}

func isNullOutpoint(op wire.OutPoint) bool {
	return op.Index == wire.MaxPrevOutIndex && op.Hash == chainhash.Hash{}
}
