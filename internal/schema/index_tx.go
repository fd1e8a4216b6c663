package schema

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ZeroBlockHash is the all-zero placeholder block hash the mempool
// shadow index uses in place of a real confirming block.
var ZeroBlockHash chainhash.Hash

// IndexTx produces the I/O/T rows for a single unconfirmed transaction,
// using ZeroBlockHash as the T row's value. It mirrors IndexBlock's
// per-transaction logic without requiring a containing block.
func IndexTx(tx *wire.MsgTx) ([]Row, error) {
	var rows []Row
	txid := tx.TxHash()

	for _, in := range tx.TxIn {
		if isNullOutpoint(in.PreviousOutPoint) {
			continue
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

	rows = append(rows, NewTxRow(txid, ZeroBlockHash))
	return rows, nil
}
