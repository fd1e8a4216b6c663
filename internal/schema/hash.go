package schema

import "crypto/sha256"

// ScriptHash computes the address-equivalent key for a scriptPubKey: a
// single SHA-256 over its raw bytes. This intentionally does not use the
// chainhash package's double-SHA256 (that hashes blocks and transactions,
// a different domain with a different collision model).
func ScriptHash(scriptPubKey []byte) [32]byte {
	return sha256.Sum256(scriptPubKey)
}
