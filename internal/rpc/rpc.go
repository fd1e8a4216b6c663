// Package rpc is the indexer's own JSON-RPC server: line-delimited JSON
// over plain TCP, one accept loop plus a reader/writer goroutine pair
// per connection. Unrelated to, and never sharing a listener with, the
// optional admin HTTP surface in internal/admin.
package rpc

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"unicode/utf8"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rawblock/addrindexer/internal/query"
	"github.com/rawblock/addrindexer/internal/waiter"
)

// tlsHandshakePrefix is the first three bytes of a TLS ClientHello; a
// connection starting with this is rejected since the server never
// speaks TLS.
var tlsHandshakePrefix = [3]byte{0x16, 0x03, 0x01}

// Request is one line of the line-delimited JSON-RPC 2.0 wire format.
type Request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params gojson.RawMessage `json:"params"`
}

// Response envelope. Error is a bare string on failure per the protocol
// (chosen for simplicity over a structured error object). A success
// envelope always carries "result" (even when its value is null, as for
// server.ping); a failure envelope never carries "result" at all, so the
// two cases need distinct JSON shapes rather than one struct with
// omitempty fields (omitempty would also drop a legitimate null result).
type Response struct {
	JSONRPC string
	ID      interface{}
	Result  interface{}
	Error   string
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return gojson.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Error   string      `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	return gojson.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      interface{} `json:"id"`
		Result  interface{} `json:"result"`
	}{r.JSONRPC, r.ID, r.Result})
}

// Server owns the listener and dispatches requests against Engine.
type Server struct {
	Engine *query.Engine
	Waiter waiter.Waiter

	version string
}

// New builds a server that answers queries against engine, tagging
// server.version responses with version.
func New(engine *query.Engine, w waiter.Waiter, version string) *Server {
	return &Server{Engine: engine, Waiter: w, version: version}
}

// ListenAndServe runs the accept loop until the listener closes or a
// shutdown is observed. It returns only on unrecoverable accept failure
// or shutdown; per-connection errors never propagate here.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	defer ln.Close()
	log.Printf("[rpc] listening on %s", addr)

	go func() {
		<-s.Waiter.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.Waiter.Poll() != nil {
				return waiter.ErrShutdown
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		go s.servePeer(conn)
	}
}

// servePeer is the "peer" goroutine: it owns the socket's write side and
// a reader goroutine that decodes lines and feeds them over a
// capacity-10 channel, matching the bounded-backpressure contract on
// slow readers.
func (s *Server) servePeer(conn net.Conn) {
	peerID := uuid.NewString()
	defer conn.Close()

	lines := make(chan []byte, 10)
	readErrs := make(chan error, 1)
	go readLines(conn, lines, readErrs)

	for line := range lines {
		if len(line) >= 3 && [3]byte{line[0], line[1], line[2]} == tlsHandshakePrefix {
			log.Printf("[rpc] peer %s sent TLS handshake prefix, aborting", peerID)
			return
		}
		if !utf8.Valid(line) {
			log.Printf("[rpc] peer %s sent non-UTF-8 input, aborting", peerID)
			return
		}

		resp := s.handleLine(line)
		encoded, err := gojson.Marshal(resp)
		if err != nil {
			log.Printf("[rpc] peer %s: marshal response: %v", peerID, err)
			return
		}
		encoded = append(encoded, '\n')
		if _, err := conn.Write(encoded); err != nil {
			log.Printf("[rpc] peer %s: write: %v", peerID, err)
			return
		}
	}

	if err := <-readErrs; err != nil && err != io.EOF {
		log.Printf("[rpc] peer %s: read: %v", peerID, err)
	}
}

// readLines is the "reader" goroutine: it scans newline-delimited
// messages off conn and pushes them into lines, closing it on EOF or
// error so the peer loop terminates.
func readLines(conn net.Conn, lines chan<- []byte, errs chan<- error) {
	defer close(lines)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines <- line
	}
	errs <- scanner.Err()
}

func (s *Server) handleLine(line []byte) Response {
	var req Request
	if err := gojson.Unmarshal(line, &req); err != nil {
		return Response{JSONRPC: "2.0", Error: fmt.Sprintf("invalid request: %v", err)}
	}

	result, err := s.dispatch(req.Method, req.Params)
	if err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: err.Error()}
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}
