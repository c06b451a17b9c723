// Package schemahash computes short content addresses for JSON schemas.
//
// The address of a schema is fixed as:
//
//  1. Canonical bytes: the schema serialized with object keys sorted
//     lexicographically at every depth, ", " between items, ": " between
//     key and value, and every non-ASCII rune escaped as \uXXXX (UTF-16
//     surrogate pairs above U+FFFF). This is byte-compatible with Python's
//     json.dumps(schema, sort_keys=True), which produced existing lakes.
//  2. Hash: FarmHash Fingerprint64 of the canonical bytes.
//  3. Bytes: the uint64 written little-endian (8 bytes).
//  4. Encoding: base58 with the Bitcoin alphabet
//     123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz,
//     leading zero bytes encoded as '1'.
//
// Changing any of these steps changes every address in a lake.
package schemahash

import (
	"encoding/binary"
	"fmt"

	farm "github.com/dgryski/go-farm"
	"github.com/mr-tron/base58"
)

// Hash returns the content address of schema. schema is any value produced
// by encoding/json decoding (maps, slices, strings, float64, json.Number,
// bool, nil) or built from those types.
func Hash(schema any) (string, error) {
	canonical, err := Canonical(schema)
	if err != nil {
		return "", fmt.Errorf("canonicalize schema: %w", err)
	}
	return HashBytes(canonical), nil
}

// HashBytes hashes already canonical bytes.
func HashBytes(canonical []byte) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], farm.Fingerprint64(canonical))
	return base58.Encode(buf[:])
}
