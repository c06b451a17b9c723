package singer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLineSize bounds a single message line.
const maxLineSize = 64 * 1024 * 1024

// Reader decodes newline-delimited Singer messages. Numbers are kept as
// json.Number so records are re-encoded verbatim.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// Next returns the next message, skipping blank lines. It returns io.EOF
// after the last message.
func (r *Reader) Next() (Message, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("line %d: decode message: %w", r.line, err)
		}
		if msg == nil {
			return nil, fmt.Errorf("line %d: message is not an object", r.line)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("line %d: trailing data after message", r.line)
		}
		return msg, nil
	}
	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("line %d: message exceeds %d bytes: %w", r.line+1, maxLineSize, err)
		}
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return nil, io.EOF
}

// Line returns the line number of the last message returned.
func (r *Reader) Line() int { return r.line }
