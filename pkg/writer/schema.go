package writer

import (
	"fmt"

	"github.com/eunmann/singerlake/pkg/schemahash"
	"github.com/eunmann/singerlake/pkg/singer"
)

// Schema is a SCHEMA message together with its content hash. The hash
// covers the whole message and addresses the directory files are stored in.
type Schema struct {
	Message singer.Message
	Hash    string
}

// NewSchema hashes a SCHEMA message.
func NewSchema(msg singer.Message) (Schema, error) {
	h, err := schemahash.Hash(msg)
	if err != nil {
		return Schema{}, fmt.Errorf("hash schema of stream %q: %w", singer.Stream(msg), err)
	}
	return Schema{Message: msg, Hash: h}, nil
}
