// Command addrindexer runs the address-to-transaction indexer: it syncs
// against a Bitcoin-like full node, maintains a queryable row index, and
// serves it over a line-delimited JSON-RPC protocol.
package main

import (
	"log"

	"github.com/rawblock/addrindexer/internal/config"
	"github.com/rawblock/addrindexer/internal/orchestrator"
)

func main() {
	cfg := config.Load()
	if err := orchestrator.Run(cfg); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}
