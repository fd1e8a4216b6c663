// Package bulk parses raw blk*.dat files from the daemon's data directory
// and indexes them with a worker pool, bypassing per-block RPC round
// trips entirely. Used once at startup when raw files are available;
// internal/incremental takes over afterward.
package bulk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/schema"
	"github.com/rawblock/addrindexer/internal/store"
	"github.com/rawblock/addrindexer/internal/waiter"
	"golang.org/x/sync/errgroup"
)

// Error wraps any failure raised while walking or parsing blk*.dat files.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("bulk: %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// parsedBlock pairs a decoded block with its hash, computed once at parse
// time, so orphan filtering can run before any rows are built.
type parsedBlock struct {
	block *wire.MsgBlock
	hash  chainhash.Hash
}

// ChainMembership answers whether a block hash is on the chain the daemon
// reports canonical at the start of this bulk run, letting the indexer
// skip orphaned blocks left behind in blk*.dat by a prior reorg.
type ChainMembership interface {
	OnChain(hash chainhash.Hash) bool
}

// HashSetMembership is the simplest ChainMembership: a fixed set of
// hashes captured once at bulk-run start, built by walking the daemon's
// reported best chain from genesis to its current tip.
type HashSetMembership struct {
	hashes map[chainhash.Hash]struct{}
}

// NewHashSetMembership wraps a pre-built set of on-chain hashes.
func NewHashSetMembership(hashes map[chainhash.Hash]struct{}) *HashSetMembership {
	return &HashSetMembership{hashes: hashes}
}

func (m *HashSetMembership) OnChain(hash chainhash.Hash) bool {
	_, ok := m.hashes[hash]
	return ok
}

// Index reads every blk*.dat file under dataDir in numeric order, fans
// block parsing out across threads workers, and writes rows through a
// single serialized writer. It emits the L sentinel for the last
// successfully indexed block and runs FullCompaction before returning.
// The returned int is the total number of rows written, for callers that
// track a running row-count metric.
func Index(dataDir string, params *chaincfg.Params, s store.Store, membership ChainMembership, threads int, w waiter.Waiter) (int, error) {
	files, err := blkFiles(dataDir)
	if err != nil {
		return 0, &Error{Op: "list_files", Cause: err}
	}

	var lastIndexed chainhash.Hash
	var lastSet bool
	var rowsWritten int

	for _, path := range files {
		if err := w.Poll(); err != nil {
			log.Printf("[bulk] shutdown observed before %s, stopping", filepath.Base(path))
			return rowsWritten, err
		}

		blocks, err := readBlkFile(path, params)
		if err != nil {
			return rowsWritten, &Error{Op: "read_file", Cause: err}
		}

		written, indexed, err := indexFile(blocks, membership, s, threads)
		if err != nil {
			return rowsWritten, err
		}
		rowsWritten += written
		if len(indexed) > 0 {
			lastIndexed = indexed[len(indexed)-1]
			lastSet = true
		}
		log.Printf("[bulk] indexed %s: %d/%d blocks on-chain", filepath.Base(path), len(indexed), len(blocks))
	}

	if lastSet {
		if err := s.Write([]schema.Row{schema.TipRow(lastIndexed)}); err != nil {
			return rowsWritten, &Error{Op: "write_tip", Cause: err}
		}
		rowsWritten++
		if err := s.Flush(); err != nil {
			return rowsWritten, &Error{Op: "flush", Cause: err}
		}
	}

	if err := s.FullCompaction(); err != nil {
		return rowsWritten, &Error{Op: "full_compaction", Cause: err}
	}
	s.EnableCompaction()
	return rowsWritten, nil
}

// indexFile parses each block in the file concurrently across threads
// workers, discards orphans, and writes surviving rows through a single
// writer in file order (not completion order), so the on-disk tip
// reflects the file's own block ordering. It returns the number of rows
// written and the hashes of the blocks that survived orphan filtering.
func indexFile(blocks []parsedBlock, membership ChainMembership, s store.Store, threads int) (int, []chainhash.Hash, error) {
	if threads < 1 {
		threads = 1
	}

	rowSets := make([][]schema.Row, len(blocks))
	var grp errgroup.Group
	grp.SetLimit(threads)

	for i, pb := range blocks {
		i, pb := i, pb
		grp.Go(func() error {
			if !membership.OnChain(pb.hash) {
				return nil
			}
			rows, err := schema.IndexBlock(pb.block)
			if err != nil {
				return &Error{Op: "index_block", Cause: err}
			}
			rowSets[i] = rows
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return 0, nil, err
	}

	var rowsWritten int
	var indexed []chainhash.Hash
	for i, pb := range blocks {
		if rowSets[i] == nil {
			continue
		}
		if err := s.Write(rowSets[i]); err != nil {
			return rowsWritten, nil, &Error{Op: "write", Cause: err}
		}
		rowsWritten += len(rowSets[i])
		indexed = append(indexed, pb.hash)
	}
	return rowsWritten, indexed, nil
}

// blkFiles lists blk*.dat under dataDir sorted by their numeric suffix,
// the order Bitcoin Core itself writes and expects them to be replayed.
func blkFiles(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && len(name) == 12 && name[:3] == "blk" && name[8:] == ".dat" {
			files = append(files, filepath.Join(dataDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// readBlkFile parses every framed block in path: magic(4) || size(4 LE) ||
// block_bytes(size). End of file at a frame boundary, or a frame whose
// magic does not match the network (trailing padding), ends the file
// cleanly; a truncated frame header or body, or a block that fails to
// deserialize, is an error.
func readBlkFile(path string, params *chaincfg.Params) ([]parsedBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []parsedBlock
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		magic := binary.LittleEndian.Uint32(header[0:4])
		if magic != uint32(params.Net) {
			break // padding/trailing zeros at file end
		}
		size := binary.LittleEndian.Uint32(header[4:8])
		raw := make([]byte, size)
		if _, err := io.ReadFull(f, raw); err != nil {
			return nil, fmt.Errorf("read block body (%d bytes): %w", size, err)
		}

		var block wire.MsgBlock
		if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("deserialize block: %w", err)
		}
		out = append(out, parsedBlock{block: &block, hash: block.BlockHash()})
	}
	return out, nil
}
