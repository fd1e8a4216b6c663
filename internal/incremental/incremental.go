// Package incremental extends the local header chain and row index by a
// bounded batch of new blocks each call, used both for steady-state
// catch-up after bulk indexing and as the sole bootstrap path when no
// raw blk*.dat files are available (JSON-RPC import mode).
package incremental

import (
	"fmt"
	"log"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/headers"
	"github.com/rawblock/addrindexer/internal/schema"
	"github.com/rawblock/addrindexer/internal/store"
	"github.com/rawblock/addrindexer/internal/waiter"
)

// Error wraps any failure from a single Update call.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("incremental: %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Daemon narrows the daemon client to what Update needs, letting tests
// supply a fake. Reconnect is handled separately (see Update's reconnect
// parameter) since Go's static interfaces can't express "returns another
// value of this same interface" when the concrete Reconnect returns a
// concrete *daemon.Client.
type Daemon interface {
	GetBestBlockHash() (chainhash.Hash, error)
	GetNewHeaders(local *headers.List, tip chainhash.Hash) ([]*wire.BlockHeader, error)
	GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error)
}

// Reconnect returns an independent daemon handle safe to hand to the
// fetcher goroutine. Callers pass *daemon.Client.Reconnect adapted to
// this shape (see internal/orchestrator).
type Reconnect func() (Daemon, error)

// Index bundles the header list and storage handle Update mutates.
type Index struct {
	Headers *headers.List
	Store   store.Store
}

// Update performs one index.update cycle: discover new headers past the
// local tip, fetch their blocks in batch-sized chunks via a backpressured
// fetcher goroutine, index each block's rows, flush, then apply the new
// headers and assert the reported tip matches.
//
// A shutdown observed by w at the top of the loop, or between batches,
// aborts the cycle after the current batch's rows are flushed; it is not
// mid-batch safe to abort, since a partially written block would leave a
// B/T/I/O row set without its L sentinel.
//
// The returned int is the total number of rows written this call, for
// callers that track a running row-count metric.
func Update(d Daemon, reconnect Reconnect, idx *Index, batchSize int, w waiter.Waiter) (int, error) {
	if err := w.Poll(); err != nil {
		return 0, err
	}

	tip, err := d.GetBestBlockHash()
	if err != nil {
		return 0, &Error{Op: "getbestblockhash", Cause: err}
	}
	if tip == idx.Headers.Tip() {
		return 0, nil
	}

	rawHeaders, err := d.GetNewHeaders(idx.Headers, tip)
	if err != nil {
		return 0, &Error{Op: "get_new_headers", Cause: err}
	}
	if len(rawHeaders) == 0 {
		return 0, nil
	}
	newEntries := idx.Headers.Order(rawHeaders)

	batches := chunkEntries(newEntries, batchSize)
	blocksCh := make(chan []*wire.MsgBlock, 1)
	errCh := make(chan error, 1)

	go fetch(reconnect, batches, blocksCh, errCh)

	var lastIndexed chainhash.Hash
	var indexedAny bool
	var rowsWritten int
consumeLoop:
	for {
		if err := w.Poll(); err != nil {
			for range blocksCh {
				// drain to let fetch() exit cleanly
			}
			if flushErr := idx.Store.Flush(); flushErr != nil {
				return rowsWritten, &Error{Op: "flush", Cause: flushErr}
			}
			return rowsWritten, err
		}

		blocks, ok := <-blocksCh
		if !ok {
			break consumeLoop
		}
		if len(blocks) == 0 {
			break consumeLoop
		}

		for _, block := range blocks {
			rows, err := schema.IndexBlock(block)
			if err != nil {
				return rowsWritten, &Error{Op: "index_block", Cause: err}
			}
			blockHash := block.BlockHash()
			rows = append(rows, schema.TipRow(blockHash))
			if err := idx.Store.Write(rows); err != nil {
				return rowsWritten, &Error{Op: "write", Cause: err}
			}
			rowsWritten += len(rows)
			lastIndexed = blockHash
			indexedAny = true
		}
	}

	if fetchErr := <-errCh; fetchErr != nil {
		return rowsWritten, &Error{Op: "fetch", Cause: fetchErr}
	}

	if err := idx.Store.Flush(); err != nil {
		return rowsWritten, &Error{Op: "flush", Cause: err}
	}

	if err := idx.Headers.Apply(newEntries, tip); err != nil {
		return rowsWritten, &Error{Op: "apply", Cause: err}
	}
	if idx.Headers.Tip() != tip {
		return rowsWritten, &Error{Op: "apply", Cause: fmt.Errorf("post-apply tip %s != reported tip %s", idx.Headers.Tip(), tip)}
	}
	if indexedAny {
		log.Printf("[incremental] indexed through %s (height %d)", lastIndexed, idx.Headers.Height())
	}
	return rowsWritten, nil
}

// chunkEntries splits entries into batches of at most size, preserving
// order.
func chunkEntries(entries []headers.Entry, size int) [][]headers.Entry {
	if size < 1 {
		size = 1
	}
	var batches [][]headers.Entry
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[i:end])
	}
	return batches
}

// fetch owns a reconnected daemon handle and feeds blocksCh one batch at
// a time, providing backpressure via the channel's capacity-1 buffer. It
// always terminates blocksCh with a close, sending a final empty slice
// is unnecessary once the channel itself is closed as the sentinel.
func fetch(reconnect Reconnect, batches [][]headers.Entry, blocksCh chan<- []*wire.MsgBlock, errCh chan<- error) {
	defer close(blocksCh)

	worker, err := reconnect()
	if err != nil {
		errCh <- err
		return
	}

	for _, batch := range batches {
		hashes := make([]chainhash.Hash, len(batch))
		for i, e := range batch {
			hashes[i] = e.BlockHash
		}
		blocks, err := worker.GetBlocks(hashes)
		if err != nil {
			errCh <- err
			return
		}
		blocksCh <- blocks
	}
	errCh <- nil
}
