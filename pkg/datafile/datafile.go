// Package datafile describes finalized Singer data files awaiting commit.
package datafile

import (
	"fmt"
	"strings"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/partition"
)

// Compression is the whole-file compression of a data file.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gz"
	CompressionBzip2 Compression = "bz2"
)

// ParseCompression validates a configured compression name. The empty
// string means none.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, "gzip":
		return CompressionGzip, nil
	case CompressionBzip2, "bzip2":
		return CompressionBzip2, nil
	}
	return "", lakeerr.NewConfigError("writer.compression", s, "expected none, gz or bz2")
}

// Ext returns the file extension suffix, including the dot, or "".
func (c Compression) Ext() string {
	if c == "" || c == CompressionNone {
		return ""
	}
	return "." + string(c)
}

// TimeLayout formats extraction times in file names.
const TimeLayout = "20060102T150405Z"

// Extension is the base extension of every data file.
const Extension = ".singer"

// File is a finalized, not yet committed Singer file.
type File struct {
	TapID        string
	StreamID     string
	SchemaHash   string
	Partitions   []partition.Partition
	MinExtracted time.Time
	MaxExtracted time.Time
	Compression  Compression
	// Records is the number of RECORD lines, excluding the schema line.
	Records int
	// Part disambiguates files whose time range would otherwise give the
	// same name. Zero means no suffix.
	Part int
	// LocalPath is where the finalized file sits until commit.
	LocalPath string
}

// Name returns the deterministic file name derived from the buffered
// records: {stream}-{min}-{max}[-{part}].singer[.ext].
func (f File) Name() string {
	var b strings.Builder
	b.WriteString(f.StreamID)
	b.WriteByte('-')
	b.WriteString(f.MinExtracted.UTC().Format(TimeLayout))
	b.WriteByte('-')
	b.WriteString(f.MaxExtracted.UTC().Format(TimeLayout))
	if f.Part > 0 {
		fmt.Fprintf(&b, "-%d", f.Part)
	}
	b.WriteString(Extension)
	b.WriteString(f.Compression.Ext())
	return b.String()
}

// PartitionKey returns the composite key of the file's partitions.
func (f File) PartitionKey() string {
	return partition.Key(f.Partitions)
}

func (f File) String() string {
	return fmt.Sprintf("%s/%s/%s", f.TapID, f.StreamID, f.Name())
}

// IsDataFileName reports whether name looks like a data file name.
func IsDataFileName(name string) bool {
	for _, ext := range []string{Extension, Extension + ".gz", Extension + ".bz2"} {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return true
		}
	}
	return false
}
