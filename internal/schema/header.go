package schema

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// SerializeHeader encodes a block header into its canonical 80-byte wire
// representation, the exact bytes stored as the value of a B row.
func SerializeHeader(header *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeHeader decodes a B row's value back into a block header.
func DeserializeHeader(raw []byte) (*wire.BlockHeader, error) {
	header := &wire.BlockHeader{}
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return header, nil
}
