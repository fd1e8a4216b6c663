// Package query answers address-history questions by combining the
// persistent row index with the mempool tracker's shadow index, and
// resolving the schema's 8-byte hash fingerprints back to full hashes.
package query

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/addrindexer/internal/headers"
	"github.com/rawblock/addrindexer/internal/mempool"
	"github.com/rawblock/addrindexer/internal/schema"
	"github.com/rawblock/addrindexer/internal/store"
)

// TooManyResults is returned by ConfirmedStatus when the number of
// matching funding outputs exceeds a configured txid_limit.
type TooManyResults struct {
	Count int
}

func (e *TooManyResults) Error() string {
	return fmt.Sprintf("query: too many results: %d matches", e.Count)
}

// Txo is a confirmed or unconfirmed transaction output.
type Txo struct {
	Txid       chainhash.Hash
	Vout       uint32
	BlockIndex int32 // 0 if unknown (mempool or lookup failure)
}

// Outpoint identifies a previous output being spent.
type Outpoint struct {
	Txid chainhash.Hash
	Vout uint32
}

// SpendingInput is a transaction input that spends a tracked outpoint.
type SpendingInput struct {
	Txid       chainhash.Hash
	Outpoint   Outpoint
	BlockIndex int32
}

// Half is one side (confirmed or mempool) of an address's Status.
type Half struct {
	Funding  []Txo
	Spending []SpendingInput
}

// Status is the complete picture of one script's activity.
type Status struct {
	Confirmed Half
	Mempool   Half
}

// Engine answers queries against a persistent store plus a mempool
// tracker, both keyed by the same row schema.
type Engine struct {
	Store     store.Store
	Headers   *headers.List
	Tracker   *mempool.Tracker
	TxidLimit int
}

// New builds a query engine over the given persistent store, header
// chain, and mempool tracker.
func New(s store.Store, h *headers.List, t *mempool.Tracker, txidLimit int) *Engine {
	return &Engine{Store: s, Headers: h, Tracker: t, TxidLimit: txidLimit}
}

// blockIndexOf resolves a confirming block hash to a height, returning 0
// for the zero hash (mempool) or any hash not found in the header chain
// (a lookup failure, per spec — overloaded with "unknown").
func (e *Engine) blockIndexOf(blockHash chainhash.Hash) int32 {
	if blockHash == (chainhash.Hash{}) {
		return 0
	}
	height, ok := e.Headers.HeightOf(blockHash)
	if !ok {
		return 0
	}
	return height
}

// resolvePrefix resolves every T row whose txid starts with p against
// reader, decoding each into its full txid and confirming block hash.
// Multiple results mean a genuine fingerprint collision; callers
// distinguish which ones matter to them.
func resolvePrefix(reader store.Reader, p schema.HashPrefix) ([]schema.TxRow, error) {
	rows, err := reader.Scan(schema.TxFilterPrefix(p))
	if err != nil {
		return nil, err
	}
	out := make([]schema.TxRow, 0, len(rows))
	for _, row := range rows {
		txRow, err := schema.DecodeTxRow(row.Key, row.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, txRow)
	}
	return out, nil
}

// findFundingOutputs scans O rows funding scriptHash against reader,
// resolving each matching row's 8-byte funding-txid fingerprint to every
// full txid sharing it.
func (e *Engine) findFundingOutputs(reader store.Reader, scriptHash [32]byte) ([]Txo, error) {
	rows, err := reader.Scan(schema.TxOutFilter(scriptHash))
	if err != nil {
		return nil, err
	}

	var out []Txo
	for _, row := range rows {
		txOut, err := schema.DecodeTxOutRow(row.Key)
		if err != nil {
			return nil, err
		}
		resolved, err := resolvePrefix(reader, txOut.FundingTxidPrefix)
		if err != nil {
			return nil, err
		}
		for _, txRow := range resolved {
			out = append(out, Txo{
				Txid:       txRow.Txid,
				Vout:       uint32(txOut.Vout),
				BlockIndex: e.blockIndexOf(txRow.BlockHash),
			})
		}
	}
	return out, nil
}

// findSpendingInput looks for the single input that spends txo against
// reader. At most one resolved spender may exist per funding outpoint; a
// second is an invariant violation stronger than the schema enforces on
// its own (see schema's collision-resolution note) and is an error, not a
// panic, since it can only arise from external corruption rather than a
// caller bug.
func (e *Engine) findSpendingInput(reader store.Reader, txo Txo) (*SpendingInput, error) {
	prefix, err := schema.TxInFilter(txo.Txid, txo.Vout)
	if err != nil {
		return nil, err
	}
	rows, err := reader.Scan(prefix)
	if err != nil {
		return nil, err
	}

	var found *SpendingInput
	for _, row := range rows {
		txIn, err := schema.DecodeTxInRow(row.Key)
		if err != nil {
			return nil, err
		}
		resolved, err := resolvePrefix(reader, txIn.SpenderTxidPrefix)
		if err != nil {
			return nil, err
		}
		for _, txRow := range resolved {
			if found != nil {
				return nil, fmt.Errorf("query: outpoint %s:%d has more than one resolved spender", txo.Txid, txo.Vout)
			}
			found = &SpendingInput{
				Txid:       txRow.Txid,
				Outpoint:   Outpoint{Txid: txo.Txid, Vout: txo.Vout},
				BlockIndex: e.blockIndexOf(txRow.BlockHash),
			}
		}
	}
	return found, nil
}

// ConfirmedStatus computes the confirmed half of scriptHash's status
// against the persistent store, failing with TooManyResults if the
// funding-output count exceeds a configured, nonzero TxidLimit.
func (e *Engine) ConfirmedStatus(scriptHash [32]byte) (Half, error) {
	funding, err := e.findFundingOutputs(e.Store, scriptHash)
	if err != nil {
		return Half{}, err
	}
	if e.TxidLimit > 0 && len(funding) > e.TxidLimit {
		return Half{}, &TooManyResults{Count: len(funding)}
	}

	var spending []SpendingInput
	for _, txo := range funding {
		spend, err := e.findSpendingInput(e.Store, txo)
		if err != nil {
			return Half{}, err
		}
		if spend != nil {
			spending = append(spending, *spend)
		}
	}
	return Half{Funding: funding, Spending: spending}, nil
}

// MempoolStatus computes the mempool half: funding outputs seen only in
// the mempool shadow index, plus mempool spends against either those or
// the caller-supplied confirmed funding outputs.
func (e *Engine) MempoolStatus(scriptHash [32]byte, confirmedFunding []Txo) (Half, error) {
	reader := e.Tracker.Index
	funding, err := e.findFundingOutputs(reader, scriptHash)
	if err != nil {
		return Half{}, err
	}

	var spending []SpendingInput
	seen := make(map[Outpoint]struct{})
	for _, txo := range append(append([]Txo{}, funding...), confirmedFunding...) {
		op := Outpoint{Txid: txo.Txid, Vout: txo.Vout}
		if _, dup := seen[op]; dup {
			continue
		}
		seen[op] = struct{}{}
		spend, err := e.findSpendingInput(reader, txo)
		if err != nil {
			return Half{}, err
		}
		if spend != nil {
			spending = append(spending, *spend)
		}
	}
	return Half{Funding: funding, Spending: spending}, nil
}

// Status returns the full confirmed+mempool picture for scriptHash.
func (e *Engine) Status(scriptHash [32]byte) (Status, error) {
	confirmed, err := e.ConfirmedStatus(scriptHash)
	if err != nil {
		return Status{}, err
	}
	mempoolHalf, err := e.MempoolStatus(scriptHash, confirmed.Funding)
	if err != nil {
		return Status{}, err
	}
	return Status{Confirmed: confirmed, Mempool: mempoolHalf}, nil
}

// OldestEntry is the result of Oldest.
type OldestEntry struct {
	Txid       chainhash.Hash
	BlockIndex int32
}

// Oldest picks, over the union of funding and spending transactions in
// status, the one with the smallest non-zero BlockIndex; if none is
// non-zero, any BlockIndex==0 entry; ties broken by first-encountered
// order (confirmed before mempool, funding before spending, scan order
// within each). Returns nil iff status is empty.
func Oldest(status Status) *OldestEntry {
	var best *OldestEntry
	consider := func(txid chainhash.Hash, blockIndex int32) {
		if best == nil {
			best = &OldestEntry{Txid: txid, BlockIndex: blockIndex}
			return
		}
		if best.BlockIndex == 0 && blockIndex != 0 {
			best = &OldestEntry{Txid: txid, BlockIndex: blockIndex}
			return
		}
		if best.BlockIndex != 0 && blockIndex != 0 && blockIndex < best.BlockIndex {
			best = &OldestEntry{Txid: txid, BlockIndex: blockIndex}
		}
	}

	for _, txo := range status.Confirmed.Funding {
		consider(txo.Txid, txo.BlockIndex)
	}
	for _, s := range status.Confirmed.Spending {
		consider(s.Txid, s.BlockIndex)
	}
	for _, txo := range status.Mempool.Funding {
		consider(txo.Txid, txo.BlockIndex)
	}
	for _, s := range status.Mempool.Spending {
		consider(s.Txid, s.BlockIndex)
	}
	return best
}

// History returns every txid appearing in status, deduplicated and
// sorted ascending by byte value.
func History(status Status) []chainhash.Hash {
	seen := make(map[chainhash.Hash]struct{})
	add := func(h chainhash.Hash) { seen[h] = struct{}{} }

	for _, txo := range status.Confirmed.Funding {
		add(txo.Txid)
	}
	for _, s := range status.Confirmed.Spending {
		add(s.Txid)
	}
	for _, txo := range status.Mempool.Funding {
		add(txo.Txid)
	}
	for _, s := range status.Mempool.Spending {
		add(s.Txid)
	}

	out := make([]chainhash.Hash, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		for k := 0; k < chainhash.HashSize; k++ {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}

// UpdateMempool delegates to the tracker's diff-and-apply cycle.
func (e *Engine) UpdateMempool() error {
	return e.Tracker.Update()
}
