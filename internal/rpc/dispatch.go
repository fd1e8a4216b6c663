package rpc

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	gojson "github.com/goccy/go-json"
	"github.com/rawblock/addrindexer/internal/query"
	"github.com/rawblock/addrindexer/internal/schema"
)

const protocolVersion = "1.4"

// dispatch routes one decoded method call to its handler. Unknown
// methods return an error response without closing the connection.
func (s *Server) dispatch(method string, params gojson.RawMessage) (interface{}, error) {
	switch method {
	case "server.version":
		return []string{fmt.Sprintf("addrindexrs %s", s.version), protocolVersion}, nil
	case "server.ping":
		return nil, nil
	case "blockchain.headers.subscribe":
		return s.headersSubscribe()
	case "blockchain.scripthash.get_balance":
		if _, err := parseScriptHashParam(params); err != nil {
			return nil, err
		}
		return map[string]interface{}{"confirmed": nil, "unconfirmed": nil}, nil
	case "blockchain.scripthash.get_history":
		return s.getHistory(params)
	case "blockchain.scripthash.get_oldest_tx":
		return s.getOldestTx(params)
	case "blockchain.scripthash.get_utxos":
		return s.getUTXOs(params)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func parseScriptHashParam(params gojson.RawMessage) ([32]byte, error) {
	var args []string
	if err := gojson.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return [32]byte{}, fmt.Errorf("expected [script_hash_hex]")
	}
	raw, err := hex.DecodeString(args[0])
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid script_hash: %v", err)
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

func (s *Server) headersSubscribe() (interface{}, error) {
	height := s.Engine.Headers.Height()
	if height < 0 {
		return nil, fmt.Errorf("no headers indexed yet")
	}
	entry, ok := s.Engine.Headers.At(height)
	if !ok {
		return nil, fmt.Errorf("tip header unavailable")
	}
	raw, err := schema.SerializeHeader(entry.Header)
	if err != nil {
		return nil, fmt.Errorf("serialize header: %v", err)
	}
	return map[string]interface{}{
		"hex":    hex.EncodeToString(raw),
		"height": height,
	}, nil
}

func (s *Server) getHistory(params gojson.RawMessage) (interface{}, error) {
	scriptHash, err := parseScriptHashParam(params)
	if err != nil {
		return nil, err
	}
	status, err := s.Engine.Status(scriptHash)
	if err != nil {
		return nil, err
	}
	txids := query.History(status)
	out := make([]map[string]string, len(txids))
	for i, txid := range txids {
		out[i] = map[string]string{"tx_hash": txid.String()}
	}
	return out, nil
}

func (s *Server) getOldestTx(params gojson.RawMessage) (interface{}, error) {
	scriptHash, err := parseScriptHashParam(params)
	if err != nil {
		return nil, err
	}
	status, err := s.Engine.Status(scriptHash)
	if err != nil {
		return nil, err
	}
	oldest := query.Oldest(status)
	if oldest == nil {
		return nil, fmt.Errorf("no txs for address")
	}
	return map[string]interface{}{
		"tx_hash":     oldest.Txid.String(),
		"block_index": oldest.BlockIndex,
	}, nil
}

func (s *Server) getUTXOs(params gojson.RawMessage) (interface{}, error) {
	scriptHash, err := parseScriptHashParam(params)
	if err != nil {
		return nil, err
	}
	status, err := s.Engine.Status(scriptHash)
	if err != nil {
		return nil, err
	}

	type outpoint struct {
		txid chainhash.Hash
		vout uint32
	}
	unspent := make(map[outpoint]struct{})
	for _, txo := range status.Confirmed.Funding {
		unspent[outpoint{txo.Txid, txo.Vout}] = struct{}{}
	}
	for _, txo := range status.Mempool.Funding {
		unspent[outpoint{txo.Txid, txo.Vout}] = struct{}{}
	}
	for _, spend := range status.Confirmed.Spending {
		delete(unspent, outpoint{spend.Outpoint.Txid, spend.Outpoint.Vout})
	}
	for _, spend := range status.Mempool.Spending {
		delete(unspent, outpoint{spend.Outpoint.Txid, spend.Outpoint.Vout})
	}

	out := make([]string, 0, len(unspent))
	for op := range unspent {
		out = append(out, fmt.Sprintf("%s:%d", op.txid.String(), op.vout))
	}
	return out, nil
}
