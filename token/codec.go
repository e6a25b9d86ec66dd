package token

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

//nolint:gochecknoinits // CBOR modes are fixed at package load
func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoding mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoding mode: %v", err))
	}
}

// Marshal encodes tok as a canonical CBOR record.
func Marshal(tok *Token) ([]byte, error) {
	if tok == nil {
		return nil, fmt.Errorf("cbor marshal failed: nil token")
	}
	data, err := encMode.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal failed: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte) (*Token, error) {
	var tok Token
	if err := decMode.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("cbor unmarshal failed: %w", err)
	}
	return &tok, nil
}
