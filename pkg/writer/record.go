package writer

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/partition"
	"github.com/eunmann/singerlake/pkg/singer"
)

// DefaultMaxOpenFiles bounds concurrently open partition writers.
const DefaultMaxOpenFiles = 64

// removeAll is swapped in tests.
var removeAll = os.RemoveAll

var (
	// ErrFinalized is returned when using a finalized or aborted RecordWriter.
	ErrFinalized = errors.New("record writer already finalized")
	// ErrFailed wraps the error that put a RecordWriter into its failed state.
	ErrFailed = errors.New("record writer failed")
)

// Config configures a RecordWriter.
type Config struct {
	TapID       string
	StreamID    string
	PartitionBy []partition.Granularity
	// MaxRecordsPerFile is the rotation threshold; zero means 10000.
	MaxRecordsPerFile int
	// MaxOpenFiles caps open partition files; the least recently written
	// one is finalized to make room. Zero means 64.
	MaxOpenFiles int
	Compression  datafile.Compression
	// StagingDir holds staging and spool directories; "" means os.TempDir.
	StagingDir string
	Logger     zerolog.Logger
}

type spooled struct {
	seq  int
	file datafile.File
}

// RecordWriter fans records of one stream out to per-partition FileWriters.
// It is not safe for concurrent use.
type RecordWriter struct {
	cfg Config
	log zerolog.Logger

	open     map[string]*FileWriter
	files    []spooled
	spoolDir string
	seq      int
	clock    uint64
	index    int

	failed error
	done   bool
}

// NewRecordWriter creates a RecordWriter. No files are created until the
// first record arrives.
func NewRecordWriter(cfg Config) *RecordWriter {
	if cfg.MaxRecordsPerFile <= 0 {
		cfg.MaxRecordsPerFile = DefaultMaxRecordsPerFile
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if cfg.Compression == "" {
		cfg.Compression = datafile.CompressionNone
	}
	return &RecordWriter{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("tap_id", cfg.TapID).Str("stream_id", cfg.StreamID).Logger(),
		open: make(map[string]*FileWriter),
	}
}

// Write routes rec to the file of its extraction-time partition, opening
// or rotating files as needed. Any error other than a rejected record
// leaves the writer failed; only Abort is useful afterwards. A record
// without an extraction time also fails the session and writes nothing.
func (rw *RecordWriter) Write(schema Schema, rec singer.Message) error {
	if rw.done {
		return ErrFinalized
	}
	if rw.failed != nil {
		return fmt.Errorf("%w: %w", ErrFailed, rw.failed)
	}
	idx := rw.index
	rw.index++

	t, err := singer.ExtractedAt(rec)
	if err != nil {
		var missing *lakeerr.MissingExtractionTimeError
		if errors.As(err, &missing) {
			missing.Index = idx
		}
		return rw.fail(err)
	}

	parts := partition.Compute(rw.cfg.PartitionBy, t)
	key := partition.Key(parts)

	fw := rw.open[key]
	if fw != nil && (fw.Full() || fw.SchemaHash() != schema.Hash) {
		reason := "record limit"
		if !fw.Full() {
			reason = "schema change"
		}
		rw.log.Debug().Str("partition", key).Str("reason", reason).Int("records", fw.RowCount()).Msg("rotating file")
		if err := rw.finalizeKey(key); err != nil {
			return rw.fail(fmt.Errorf("record %d: %w", idx, err))
		}
		fw = nil
	}

	if fw == nil {
		if len(rw.open) >= rw.cfg.MaxOpenFiles {
			if err := rw.evict(); err != nil {
				return rw.fail(fmt.Errorf("record %d: %w", idx, err))
			}
		}
		fw, err = rw.openFile(schema, parts)
		if err != nil {
			return rw.fail(fmt.Errorf("record %d: %w", idx, err))
		}
		rw.open[key] = fw
	}

	if err := fw.writeRecordAt(rec, t); err != nil {
		return rw.fail(fmt.Errorf("record %d: %w", idx, err))
	}
	rw.clock++
	fw.lastUsed = rw.clock
	return nil
}

func (rw *RecordWriter) fail(err error) error {
	rw.failed = err
	rw.log.Error().Err(err).Msg("write session failed")
	return err
}

func (rw *RecordWriter) openFile(schema Schema, parts []partition.Partition) (*FileWriter, error) {
	if rw.spoolDir == "" {
		dir, err := os.MkdirTemp(rw.cfg.StagingDir, "singerlake-spool-*")
		if err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
		rw.spoolDir = dir
	}

	rw.seq++
	fw := NewFileWriter(FileConfig{
		TapID:       rw.cfg.TapID,
		StreamID:    rw.cfg.StreamID,
		Partitions:  parts,
		MaxRecords:  rw.cfg.MaxRecordsPerFile,
		Compression: rw.cfg.Compression,
		StagingDir:  rw.cfg.StagingDir,
		SpoolDir:    rw.spoolDir,
		Seq:         rw.seq,
	})
	if err := fw.Open(); err != nil {
		return nil, err
	}
	if err := fw.WriteSchema(schema); err != nil {
		fw.Abort()
		return nil, err
	}
	return fw, nil
}

func (rw *RecordWriter) finalizeKey(key string) error {
	fw := rw.open[key]
	delete(rw.open, key)
	f, err := fw.Close()
	if err != nil {
		return err
	}
	rw.files = append(rw.files, spooled{seq: fw.cfg.Seq, file: f})
	return nil
}

// evict finalizes the least recently written open file.
func (rw *RecordWriter) evict() error {
	var (
		oldestKey string
		oldest    uint64
	)
	for k, fw := range rw.open {
		if oldestKey == "" || fw.lastUsed < oldest {
			oldestKey, oldest = k, fw.lastUsed
		}
	}
	rw.log.Debug().Str("partition", oldestKey).Int("open_files", len(rw.open)).Msg("evicting least recently used file")
	return rw.finalizeKey(oldestKey)
}

// OpenFiles returns the number of partition files currently open.
func (rw *RecordWriter) OpenFiles() int { return len(rw.open) }

// Files returns the files finalized so far, in the order their first
// record arrived.
func (rw *RecordWriter) Files() []datafile.File {
	sorted := append([]spooled(nil), rw.files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })
	out := make([]datafile.File, len(sorted))
	for i, s := range sorted {
		out[i] = s.file
	}
	return out
}

// Finalize closes every open file and returns all finalized files in the
// order their first record arrived. It may be called once.
func (rw *RecordWriter) Finalize() ([]datafile.File, error) {
	if rw.done {
		return nil, ErrFinalized
	}
	if rw.failed != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailed, rw.failed)
	}

	keys := make([]string, 0, len(rw.open))
	for k := range rw.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return rw.open[keys[i]].cfg.Seq < rw.open[keys[j]].cfg.Seq })
	for _, k := range keys {
		if err := rw.finalizeKey(k); err != nil {
			return nil, rw.fail(err)
		}
	}

	rw.done = true
	files := rw.Files()
	rw.log.Debug().Int("files", len(files)).Int("records", rw.index).Msg("finalized write session")
	return files, nil
}

// Abort discards open files, spooled files and the spool directory. It is
// safe to call at any point, including after Finalize.
func (rw *RecordWriter) Abort() {
	for k, fw := range rw.open {
		fw.Abort()
		delete(rw.open, k)
	}
	rw.done = true
	rw.files = nil
	if err := rw.Cleanup(); err != nil {
		rw.log.Warn().Err(err).Msg("spool cleanup failed")
	}
}

// Cleanup removes the spool directory and anything left in it. Committed
// files have already been moved out.
func (rw *RecordWriter) Cleanup() error {
	if rw.spoolDir == "" {
		return nil
	}
	dir := rw.spoolDir
	rw.spoolDir = ""
	if err := removeAll(dir); err != nil {
		return fmt.Errorf("remove spool dir: %w", err)
	}
	return nil
}
