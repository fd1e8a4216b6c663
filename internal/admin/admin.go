// Package admin is the optional operator-facing HTTP surface: health
// check, counters, and a live-progress websocket feed. It never
// participates in the address-indexing query protocol served by
// internal/rpc — this is strictly ops visibility.
package admin

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/addrindexer/internal/headers"
)

// Counters are the atomics the main loop bumps after each tick; Server
// reads them for /stats without taking any lock shared with the indexer.
type Counters struct {
	RowsWritten      atomic.Int64
	MempoolSize      atomic.Int64
	LastUpdateMillis atomic.Int64
}

// Server wraps a gin engine exposing /healthz, /stats, and /ws.
type Server struct {
	engine   *gin.Engine
	headers  *headers.List
	counters *Counters
	hub      *Hub
}

// New builds the admin server. headers is consulted for /healthz's
// tip_height; counters backs /stats; every completed tick should call
// Broadcast to push a message to any connected /ws clients.
func New(h *headers.List, counters *Counters) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	hub := NewHub()
	s := &Server{engine: engine, headers: h, counters: counters, hub: hub}

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/stats", s.handleStats)
	engine.GET("/ws", hub.Subscribe)

	return s
}

// Run starts the hub's broadcast loop and blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	go s.hub.Run()
	return s.engine.Run(addr)
}

// Broadcast pushes a JSON-encoded tick summary to every connected
// websocket client; called by the orchestrator after each successful
// index.update/tracker.update pair.
func (s *Server) Broadcast(data []byte) {
	s.hub.Broadcast(data)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"tip_height":  s.headers.Height(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rows_written":       s.counters.RowsWritten.Load(),
		"mempool_size":       s.counters.MempoolSize.Load(),
		"last_update_millis": s.counters.LastUpdateMillis.Load(),
	})
}
