// Package daemon is the JSON-RPC client for the full-node daemon: the
// only calls the indexing and query engines depend on are
// getbestblockhash, header/block retrieval, mempool listing, and
// transaction fetch.
package daemon

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/addrindexer/internal/cache"
	"github.com/rawblock/addrindexer/internal/headers"
)

// Error wraps any daemon RPC/HTTP failure. It is generally retryable on
// the next main-loop tick; the mempool tracker treats a failed
// transaction fetch specially (see internal/mempool) by preserving prior
// state instead of propagating.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("daemon: %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// CookieGetter returns the current RPC basic-auth credentials, re-read on
// every reconnect so a rotated cookie file is picked up without a
// restart. Acquisition itself is an external collaborator (config).
type CookieGetter func() (user, pass string, err error)

// Config bundles the daemon connection parameters supplied by the
// external config loader.
type Config struct {
	RPCAddr      string
	CookieGetter CookieGetter
	Params       *chaincfg.Params
}

// Client is a stateless-between-calls JSON-RPC handle. Handles are not
// shared across goroutines that might reconnect independently; the
// incremental fetcher owns its own via Reconnect.
type Client struct {
	rpc    *rpcclient.Client
	cfg    Config
	blocks *cache.BlockTxIDs
}

// New dials the daemon and returns a ready client sharing blockTxIDs
// with every handle produced from it via Reconnect.
func New(cfg Config, blockTxIDs *cache.BlockTxIDs) (*Client, error) {
	user, pass, err := cfg.CookieGetter()
	if err != nil {
		return nil, &Error{Op: "cookie", Cause: err}
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.RPCAddr,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, &Error{Op: "connect", Cause: err}
	}
	return &Client{rpc: rpc, cfg: cfg, blocks: blockTxIDs}, nil
}

// Reconnect returns an independent handle safe to move to another
// goroutine: it duplicates authentication state (re-reading the cookie
// file), network params, and a pointer to the shared block-txid cache.
func (c *Client) Reconnect() (*Client, error) {
	return New(c.cfg, c.blocks)
}

func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// GetBestBlockHash returns the daemon's current chain tip.
func (c *Client) GetBestBlockHash() (chainhash.Hash, error) {
	hash, err := c.rpc.GetBestBlockHash()
	if err != nil {
		return chainhash.Hash{}, &Error{Op: "getbestblockhash", Cause: err}
	}
	return *hash, nil
}

// GetNewHeaders walks the daemon's header chain from the height just
// after local's tip up to tip, returning raw headers in ascending-height
// order. local is consulted only to find the starting height; it is not
// mutated.
func (c *Client) GetNewHeaders(local *headers.List, tip chainhash.Hash) ([]*wire.BlockHeader, error) {
	tipVerbose, err := c.rpc.GetBlockHeaderVerbose(&tip)
	if err != nil {
		return nil, &Error{Op: "getblockheader", Cause: err}
	}
	tipHeight := tipVerbose.Height

	startHeight := int32(local.Height() + 1)
	if int32(tipHeight) < startHeight {
		return nil, nil
	}

	out := make([]*wire.BlockHeader, 0, int32(tipHeight)-startHeight+1)
	for h := startHeight; h <= int32(tipHeight); h++ {
		blockHash, err := c.rpc.GetBlockHash(int64(h))
		if err != nil {
			return nil, &Error{Op: "getblockhash", Cause: err}
		}
		header, err := c.rpc.GetBlockHeader(blockHash)
		if err != nil {
			return nil, &Error{Op: "getblockheader", Cause: err}
		}
		out = append(out, header)
	}
	return out, nil
}

// GetBlocks fetches full blocks for the given hashes, used only by the
// JSON-RPC bulk bootstrap path (raw blk*.dat files are preferred when
// available because they avoid this per-block RPC round trip).
func (c *Client) GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	blocks := make([]*wire.MsgBlock, 0, len(hashes))
	for _, h := range hashes {
		hash := h
		block, err := c.rpc.GetBlock(&hash)
		if err != nil {
			return nil, &Error{Op: "getblock", Cause: err}
		}
		blocks = append(blocks, block)
		txids := make([]chainhash.Hash, len(block.Transactions))
		for i, tx := range block.Transactions {
			txids[i] = tx.TxHash()
		}
		c.blocks.Put(hash, txids)
	}
	return blocks, nil
}

// GetChainHashes walks the daemon's best chain from genesis to tip,
// returning the set of block hashes it reports canonical. Used once at
// bulk-indexer startup to filter orphaned blocks out of blk*.dat.
func (c *Client) GetChainHashes(tip chainhash.Hash) (map[chainhash.Hash]struct{}, error) {
	tipVerbose, err := c.rpc.GetBlockHeaderVerbose(&tip)
	if err != nil {
		return nil, &Error{Op: "getblockheader", Cause: err}
	}

	set := make(map[chainhash.Hash]struct{}, tipVerbose.Height+1)
	for h := int64(0); h <= int64(tipVerbose.Height); h++ {
		blockHash, err := c.rpc.GetBlockHash(h)
		if err != nil {
			return nil, &Error{Op: "getblockhash", Cause: err}
		}
		set[*blockHash] = struct{}{}
	}
	return set, nil
}

// GetMempoolTxids lists the current contents of the daemon's mempool.
func (c *Client) GetMempoolTxids() (map[chainhash.Hash]struct{}, error) {
	hashes, err := c.rpc.GetRawMempool()
	if err != nil {
		return nil, &Error{Op: "getrawmempool", Cause: err}
	}
	set := make(map[chainhash.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[*h] = struct{}{}
	}
	return set, nil
}

// GetMempoolEntry fetches one mempool-entry record; failures are
// best-effort from the caller's point of view (the tracker defers the
// txid to the next cycle rather than treating this as fatal).
func (c *Client) GetMempoolEntry(txid chainhash.Hash) (*btcjson.GetMempoolEntryResult, error) {
	raw, err := c.rpc.RawRequest("getmempoolentry", []json.RawMessage{mustMarshal(txid.String())})
	if err != nil {
		return nil, &Error{Op: "getmempoolentry", Cause: err}
	}
	var entry btcjson.GetMempoolEntryResult
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, &Error{Op: "getmempoolentry", Cause: err}
	}
	return &entry, nil
}

// GetTransactions batch-fetches full transactions for the given txids. A
// single failed lookup aborts the whole batch; the mempool tracker relies
// on that all-or-nothing behavior to preserve prior state on partial
// daemon trouble.
func (c *Client) GetTransactions(txids []chainhash.Hash) ([]*wire.MsgTx, error) {
	out := make([]*wire.MsgTx, 0, len(txids))
	for _, txid := range txids {
		id := txid
		raw, err := c.rpc.GetRawTransaction(&id)
		if err != nil {
			return nil, &Error{Op: "getrawtransaction", Cause: err}
		}
		out = append(out, raw.MsgTx())
	}
	return out, nil
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Panicf("daemon: marshal %v: %v", v, err)
	}
	return b
}
