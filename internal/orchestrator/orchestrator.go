// Package orchestrator wires every component together and runs the
// indexer's main loop: bootstrap, five-second-cadence update ticks, and
// lazily-started RPC/admin servers.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rawblock/addrindexer/internal/admin"
	"github.com/rawblock/addrindexer/internal/bulk"
	"github.com/rawblock/addrindexer/internal/cache"
	"github.com/rawblock/addrindexer/internal/config"
	"github.com/rawblock/addrindexer/internal/daemon"
	"github.com/rawblock/addrindexer/internal/headers"
	"github.com/rawblock/addrindexer/internal/incremental"
	"github.com/rawblock/addrindexer/internal/mempool"
	"github.com/rawblock/addrindexer/internal/query"
	"github.com/rawblock/addrindexer/internal/rpc"
	"github.com/rawblock/addrindexer/internal/store"
	"github.com/rawblock/addrindexer/internal/waiter"
)

const (
	tickInterval = 5 * time.Second
	version      = "0.1.0"
)

// Run bootstraps every component from cfg and drives the main loop until
// a non-recoverable error or a clean shutdown. It returns nil only on a
// deliberate shutdown observed via the waiter.
func Run(cfg config.Config) error {
	w := waiter.Start()

	s, err := store.Open(cfg.DBPath, cfg.JSONRPCImport)
	if err != nil {
		return fmt.Errorf("orchestrator: open store: %w", err)
	}
	defer s.Close()

	hl, err := headers.Load(s)
	if err != nil {
		return fmt.Errorf("orchestrator: load headers: %w", err)
	}

	blockTxIDs := cache.NewBlockTxIDs(cfg.BlockTxIDsCacheSize)
	d, err := daemon.New(daemon.Config{
		RPCAddr:      cfg.DaemonRPCAddr,
		CookieGetter: cfg.CookieGetter,
		Params:       cfg.Params,
	}, blockTxIDs)
	if err != nil {
		return fmt.Errorf("orchestrator: connect daemon: %w", err)
	}
	defer d.Shutdown()

	var counters admin.Counters
	if err := bootstrap(cfg, d, s, hl, w, &counters); err != nil {
		return err
	}

	tracker := mempool.NewTracker(d)
	engine := query.New(s, hl, tracker, cfg.TxidLimit)

	var adminSrv *admin.Server
	if cfg.AdminRPCAddr != "" {
		adminSrv = admin.New(hl, &counters)
		go func() {
			if err := adminSrv.Run(cfg.AdminRPCAddr); err != nil {
				log.Printf("[orchestrator] admin server exited: %v", err)
			}
		}()
	}

	rpcStarted := false
	idx := &incremental.Index{Headers: hl, Store: s}
	reconnect := func() (incremental.Daemon, error) { return d.Reconnect() }

	for {
		if err := w.Poll(); err != nil {
			log.Printf("[orchestrator] shutdown observed, exiting")
			return nil
		}

		tickStart := time.Now()
		written, err := incremental.Update(d, reconnect, idx, cfg.IndexBatchSize, w)
		if err != nil {
			if err == waiter.ErrShutdown {
				return nil
			}
			log.Printf("[orchestrator] index.update failed: %v", err)
			os.Exit(1)
		}
		counters.RowsWritten.Add(int64(written))
		if err := engine.UpdateMempool(); err != nil {
			log.Printf("[orchestrator] tracker.update failed: %v", err)
			os.Exit(1)
		}
		counters.MempoolSize.Store(int64(tracker.Size()))
		elapsed := time.Since(tickStart)
		counters.LastUpdateMillis.Store(elapsed.Milliseconds())

		if adminSrv != nil {
			broadcastTick(adminSrv, hl.Height(), written, tracker.Size(), elapsed)
		}

		if !rpcStarted {
			rpcStarted = true
			srv := rpc.New(engine, w.Clone(), version)
			go func() {
				if err := srv.ListenAndServe(cfg.IndexerRPCAddr); err != nil {
					log.Printf("[orchestrator] rpc server exited: %v", err)
				}
			}()
		}

		if err := w.Wait(tickInterval); err != nil {
			log.Printf("[orchestrator] shutdown observed, exiting")
			return nil
		}
	}
}

// tickSummary is the payload pushed to /ws clients after every completed
// tick: this tick's rows written, the mempool size and the elapsed time,
// plus the current tip height, which /healthz reports through
// headers.List.
type tickSummary struct {
	TipHeight    int32 `json:"tip_height"`
	RowsWritten  int   `json:"rows_written"`
	MempoolSize  int   `json:"mempool_size"`
	ElapsedMicro int64 `json:"elapsed_micros"`
}

// broadcastTick pushes a tick summary to every connected admin websocket
// client. Marshal failures are logged, not fatal: a malformed broadcast
// should never take down the indexing loop.
func broadcastTick(adminSrv *admin.Server, tipHeight int32, rowsWritten, mempoolSize int, elapsed time.Duration) {
	data, err := json.Marshal(tickSummary{
		TipHeight:    tipHeight,
		RowsWritten:  rowsWritten,
		MempoolSize:  mempoolSize,
		ElapsedMicro: elapsed.Microseconds(),
	})
	if err != nil {
		log.Printf("[orchestrator] marshal tick summary: %v", err)
		return
	}
	adminSrv.Broadcast(data)
}

// bootstrap decides between the raw blk*.dat bulk path and the plain
// JSON-RPC incremental path, runs whichever applies, and leaves the
// store fully compacted with background compaction enabled. Rows
// written during bootstrap are folded into counters so /stats reflects
// them once the admin server comes up.
func bootstrap(cfg config.Config, d *daemon.Client, s store.Store, hl *headers.List, w waiter.Waiter, counters *admin.Counters) error {
	compacted, err := s.IsFullyCompacted()
	if err != nil {
		return fmt.Errorf("orchestrator: check compaction state: %w", err)
	}
	if compacted {
		s.EnableCompaction()
		return nil
	}

	if !cfg.JSONRPCImport && cfg.DaemonDir != "" {
		tip, err := d.GetBestBlockHash()
		if err != nil {
			return fmt.Errorf("orchestrator: bulk bootstrap: %w", err)
		}
		membership, err := d.GetChainHashes(tip)
		if err != nil {
			return fmt.Errorf("orchestrator: bulk bootstrap: %w", err)
		}
		written, err := bulk.Index(cfg.DaemonDir, cfg.Params, s, bulk.NewHashSetMembership(membership), cfg.BulkIndexThreads, w)
		if err != nil {
			return fmt.Errorf("orchestrator: bulk index: %w", err)
		}
		counters.RowsWritten.Add(int64(written))
		reloaded, err := headers.Load(s)
		if err != nil {
			return fmt.Errorf("orchestrator: reload headers after bulk: %w", err)
		}
		hl.ReplaceFrom(reloaded)
		return nil
	}

	// JSON-RPC bootstrap: repeatedly call incremental.Update until caught
	// up, then run full_compaction exactly as the bulk path does.
	idx := &incremental.Index{Headers: hl, Store: s}
	reconnect := func() (incremental.Daemon, error) { return d.Reconnect() }
	for {
		if err := w.Poll(); err != nil {
			return err
		}
		beforeHeight := hl.Height()
		written, err := incremental.Update(d, reconnect, idx, cfg.IndexBatchSize, w)
		if err != nil {
			return fmt.Errorf("orchestrator: json-rpc bootstrap: %w", err)
		}
		counters.RowsWritten.Add(int64(written))
		tip, err := d.GetBestBlockHash()
		if err != nil {
			return fmt.Errorf("orchestrator: json-rpc bootstrap: %w", err)
		}
		if hl.Tip() == tip && hl.Height() == beforeHeight {
			break
		}
	}
	if err := s.FullCompaction(); err != nil {
		return fmt.Errorf("orchestrator: full_compaction: %w", err)
	}
	s.EnableCompaction()
	return nil
}
