// Package config loads the indexer's configuration from environment
// variables: required values fail fast at startup, optional ones fall
// back to documented defaults. CLI flag parsing and .env loading are
// left to whatever process launches the binary.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
)

// Config bundles every value the orchestrator needs to bootstrap the
// indexing engine, the JSON-RPC server, and (optionally) the admin HTTP
// surface.
type Config struct {
	DaemonDir           string
	DaemonRPCAddr       string
	CookiePath          string
	NetworkType         string
	Params              *chaincfg.Params
	DBPath              string
	JSONRPCImport       bool
	IndexBatchSize      int
	BulkIndexThreads    int
	BlockTxIDsCacheSize int64
	IndexerRPCAddr      string
	AdminRPCAddr        string // empty disables the admin surface
	TxidLimit           int
}

// Load reads Config from the environment. Every variable it reads has a
// default; an unrecognised NETWORK_TYPE exits the process via log.Fatalf.
func Load() Config {
	network := getEnvOrDefault("NETWORK_TYPE", "mainnet")
	params, err := paramsForNetwork(network)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	return Config{
		DaemonDir:           getEnvOrDefault("DAEMON_DIR", ""),
		DaemonRPCAddr:       getEnvOrDefault("DAEMON_RPC_ADDR", "127.0.0.1:8332"),
		CookiePath:          getEnvOrDefault("DAEMON_COOKIE_PATH", ""),
		NetworkType:         network,
		Params:              params,
		DBPath:              getEnvOrDefault("DB_PATH", "./addrindex-db"),
		JSONRPCImport:       getEnvBoolOrDefault("JSONRPC_IMPORT", false),
		IndexBatchSize:      getEnvIntOrDefault("INDEX_BATCH_SIZE", 100),
		BulkIndexThreads:    getEnvIntOrDefault("BULK_INDEX_THREADS", 4),
		BlockTxIDsCacheSize: getEnvInt64OrDefault("BLOCKTXIDS_CACHE_SIZE", 100<<20),
		IndexerRPCAddr:      getEnvOrDefault("INDEXER_RPC_ADDR", "127.0.0.1:50001"),
		AdminRPCAddr:        getEnvOrDefault("ADMIN_RPC_ADDR", ""),
		TxidLimit:           getEnvIntOrDefault("TXID_LIMIT", 0),
	}
}

func paramsForNetwork(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown NETWORK_TYPE %q", network)
	}
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		log.Printf("config: invalid bool for %s=%q, using default %v", key, val, fallback)
		return fallback
	}
	return parsed
}

func getEnvIntOrDefault(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("config: invalid int for %s=%q, using default %d", key, val, fallback)
		return fallback
	}
	return parsed
}

func getEnvInt64OrDefault(key string, fallback int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("config: invalid int64 for %s=%q, using default %d", key, val, fallback)
		return fallback
	}
	return parsed
}

// CookieGetter reads the daemon's RPC cookie file, returning (user, pass).
// Bitcoin Core cookie files are a single line "__cookie__:<pass>".
func (c Config) CookieGetter() (user, pass string, err error) {
	if c.CookiePath == "" {
		return requireEnv("DAEMON_RPC_USER"), requireEnv("DAEMON_RPC_PASS"), nil
	}
	raw, err := os.ReadFile(c.CookiePath)
	if err != nil {
		return "", "", fmt.Errorf("config: read cookie file %s: %w", c.CookiePath, err)
	}
	line := string(raw)
	for i, ch := range line {
		if ch == ':' {
			return line[:i], line[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("config: malformed cookie file %s", c.CookiePath)
}
