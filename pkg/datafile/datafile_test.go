package datafile

import (
	"errors"
	"testing"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
)

func TestFileName(t *testing.T) {
	minT := time.Date(2020, 8, 19, 13, 1, 56, 0, time.UTC)
	maxT := time.Date(2020, 8, 19, 13, 59, 2, 0, time.UTC)

	tests := []struct {
		name string
		file File
		want string
	}{
		{
			name: "plain",
			file: File{StreamID: "entry", MinExtracted: minT, MaxExtracted: minT},
			want: "entry-20200819T130156Z-20200819T130156Z.singer",
		},
		{
			name: "range gzip",
			file: File{StreamID: "entry", MinExtracted: minT, MaxExtracted: maxT, Compression: CompressionGzip},
			want: "entry-20200819T130156Z-20200819T135902Z.singer.gz",
		},
		{
			name: "part suffix bzip2",
			file: File{StreamID: "entry", MinExtracted: minT, MaxExtracted: maxT, Compression: CompressionBzip2, Part: 2},
			want: "entry-20200819T130156Z-20200819T135902Z-2.singer.bz2",
		},
		{
			name: "non utc times",
			file: File{
				StreamID:     "region",
				MinExtracted: minT.In(time.FixedZone("x", 3600)),
				MaxExtracted: minT.In(time.FixedZone("y", -3600)),
			},
			want: "region-20200819T130156Z-20200819T130156Z.singer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.file.Name(); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{
		"":      CompressionNone,
		"none":  CompressionNone,
		"gz":    CompressionGzip,
		"GZIP":  CompressionGzip,
		"bz2":   CompressionBzip2,
		"bzip2": CompressionBzip2,
	} {
		got, err := ParseCompression(in)
		if err != nil {
			t.Errorf("ParseCompression(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseCompression(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseCompression("zstd"); !errors.Is(err, lakeerr.ErrConfig) {
		t.Errorf("ParseCompression(zstd) error = %v, want ErrConfig", err)
	}
}

func TestIsDataFileName(t *testing.T) {
	for name, want := range map[string]bool{
		"entry-20200819T130156Z-20200819T130156Z.singer":     true,
		"entry-20200819T130156Z-20200819T130156Z.singer.gz":  true,
		"entry-20200819T130156Z-20200819T130156Z.singer.bz2": true,
		"manifest.json":        false,
		"manifest.json.lock":   false,
		".singer":              false,
		"entry.singer.gz.tmp":  false,
		"entry.singer.partial": false,
	} {
		if got := IsDataFileName(name); got != want {
			t.Errorf("IsDataFileName(%q) = %v, want %v", name, got, want)
		}
	}
}
