// Package writer turns an unbounded stream of Singer records into a bounded
// set of finalized, partitioned data files.
//
// A FileWriter stages one file in a private temporary directory. A
// RecordWriter routes records to one FileWriter per partition, rotates them
// at the row threshold or on a schema change, and caps how many are open at
// once.
package writer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/partition"
	"github.com/eunmann/singerlake/pkg/singer"
)

// DefaultMaxRecordsPerFile is the row rotation threshold.
const DefaultMaxRecordsPerFile = 10000

var (
	// ErrNotOpen is returned when writing to a FileWriter that is not open.
	ErrNotOpen = errors.New("file writer not open")
	// ErrAlreadyOpen is returned by Open on an open or finalized FileWriter.
	ErrAlreadyOpen = errors.New("file writer already opened")
	// ErrFileFull is returned when a record would exceed the threshold.
	ErrFileFull = errors.New("file writer reached its record limit")
	// ErrNoSchema is returned when a record is written before the schema.
	ErrNoSchema = errors.New("schema not written")
	// ErrNoRecords is returned when closing a file without records.
	ErrNoRecords = errors.New("file has no records")
)

type fileState int

const (
	stateClosed fileState = iota
	stateOpen
	stateFinalized
)

// FileConfig configures one FileWriter.
type FileConfig struct {
	TapID      string
	StreamID   string
	Partitions []partition.Partition
	// MaxRecords is the rotation threshold; zero means the default.
	MaxRecords  int
	Compression datafile.Compression
	// StagingDir is the parent of the private temp dir; "" means os.TempDir.
	StagingDir string
	// SpoolDir receives the file on Close.
	SpoolDir string
	// Seq prefixes the spooled name so two files with the same derived name
	// can wait side by side.
	Seq int
}

// FileWriter writes one Singer data file: a SCHEMA line followed by at most
// MaxRecords RECORD lines. States run closed, open, finalized.
type FileWriter struct {
	cfg   FileConfig
	state fileState

	tmpDir string
	path   string
	f      *os.File
	buf    *bufio.Writer
	comp   io.WriteCloser
	enc    *json.Encoder

	schema    *Schema
	records   int
	minTime   time.Time
	maxTime   time.Time
	lastUsed  uint64
	writeFail error
}

// NewFileWriter creates a closed FileWriter.
func NewFileWriter(cfg FileConfig) *FileWriter {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecordsPerFile
	}
	if cfg.Compression == "" {
		cfg.Compression = datafile.CompressionNone
	}
	return &FileWriter{cfg: cfg}
}

// Open creates the staging directory and file.
func (w *FileWriter) Open() error {
	if w.state != stateClosed {
		return ErrAlreadyOpen
	}

	dir, err := os.MkdirTemp(w.cfg.StagingDir, "singerlake-stage-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("create staging file: %w", err)
	}

	w.tmpDir, w.path, w.f = dir, path, f
	w.buf = bufio.NewWriterSize(f, 256*1024)

	var out io.Writer = w.buf
	switch w.cfg.Compression {
	case datafile.CompressionGzip:
		w.comp = gzip.NewWriter(w.buf)
		out = w.comp
	case datafile.CompressionBzip2:
		bw, err := bzip2.NewWriter(w.buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			f.Close()
			os.RemoveAll(dir)
			return fmt.Errorf("create bzip2 writer: %w", err)
		}
		w.comp = bw
		out = bw
	}

	w.enc = json.NewEncoder(out)
	w.enc.SetEscapeHTML(false)
	w.state = stateOpen
	return nil
}

// WriteSchema writes the SCHEMA line. It must come before any record.
func (w *FileWriter) WriteSchema(s Schema) error {
	if w.state != stateOpen {
		return ErrNotOpen
	}
	if w.schema != nil {
		return fmt.Errorf("schema already written for %s", w.cfg.StreamID)
	}
	if err := w.encode(s.Message); err != nil {
		return err
	}
	w.schema = &s
	return nil
}

// WriteRecord writes a RECORD message. A record without a usable extraction
// time fails with MissingExtractionTimeError and writes nothing.
func (w *FileWriter) WriteRecord(rec singer.Message) error {
	t, err := singer.ExtractedAt(rec)
	if err != nil {
		return err
	}
	return w.writeRecordAt(rec, t)
}

func (w *FileWriter) writeRecordAt(rec singer.Message, t time.Time) error {
	if w.state != stateOpen {
		return ErrNotOpen
	}
	if w.schema == nil {
		return ErrNoSchema
	}
	if w.records >= w.cfg.MaxRecords {
		return ErrFileFull
	}
	if err := w.encode(rec); err != nil {
		return err
	}

	if w.records == 0 || t.Before(w.minTime) {
		w.minTime = t
	}
	if w.records == 0 || t.After(w.maxTime) {
		w.maxTime = t
	}
	w.records++
	return nil
}

func (w *FileWriter) encode(msg singer.Message) error {
	if w.writeFail != nil {
		return w.writeFail
	}
	if err := w.enc.Encode(msg); err != nil {
		var unsupported *json.UnsupportedValueError
		var unsupportedType *json.UnsupportedTypeError
		if errors.As(err, &unsupported) || errors.As(err, &unsupportedType) {
			return fmt.Errorf("encode message: %w", err)
		}
		w.writeFail = fmt.Errorf("write staging file %s: %w", w.path, err)
		return w.writeFail
	}
	return nil
}

// RowCount returns the number of records written.
func (w *FileWriter) RowCount() int { return w.records }

// Full reports whether the file reached its record limit.
func (w *FileWriter) Full() bool { return w.records >= w.cfg.MaxRecords }

// SchemaHash returns the hash of the schema written, or "".
func (w *FileWriter) SchemaHash() string {
	if w.schema == nil {
		return ""
	}
	return w.schema.Hash
}

// Close flushes the file, moves it into the spool directory and removes the
// staging directory. The FileWriter is finalized afterwards, even on error.
func (w *FileWriter) Close() (datafile.File, error) {
	if w.state != stateOpen {
		return datafile.File{}, ErrNotOpen
	}
	defer w.finish()

	if w.records == 0 {
		return datafile.File{}, ErrNoRecords
	}
	if err := w.flush(); err != nil {
		return datafile.File{}, err
	}

	file := datafile.File{
		TapID:        w.cfg.TapID,
		StreamID:     w.cfg.StreamID,
		SchemaHash:   w.schema.Hash,
		Partitions:   append([]partition.Partition{}, w.cfg.Partitions...),
		MinExtracted: w.minTime,
		MaxExtracted: w.maxTime,
		Compression:  w.cfg.Compression,
		Records:      w.records,
	}

	if err := os.MkdirAll(w.cfg.SpoolDir, 0o755); err != nil {
		return datafile.File{}, fmt.Errorf("create spool dir: %w", err)
	}
	dst := filepath.Join(w.cfg.SpoolDir, fmt.Sprintf("%06d-%s", w.cfg.Seq, file.Name()))
	if err := os.Rename(w.path, dst); err != nil {
		return datafile.File{}, fmt.Errorf("move staged file to spool: %w", err)
	}
	file.LocalPath = dst
	return file, nil
}

func (w *FileWriter) flush() error {
	if w.writeFail != nil {
		return w.writeFail
	}
	if w.comp != nil {
		if err := w.comp.Close(); err != nil {
			return fmt.Errorf("close compressor: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush staging file: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync staging file: %w", err)
	}
	return nil
}

// Abort discards the staged file and its directory.
func (w *FileWriter) Abort() {
	if w.state == stateOpen {
		w.finish()
	}
	w.state = stateFinalized
}

// finish closes the handle and removes the staging directory.
func (w *FileWriter) finish() {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
	if w.tmpDir != "" {
		os.RemoveAll(w.tmpDir)
		w.tmpDir = ""
	}
	w.state = stateFinalized
}
