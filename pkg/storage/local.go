package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/singerlake/pkg/lakepath"
)

// Local stores files on the local filesystem. Relative GenericPaths resolve
// against the process working directory.
type Local struct{}

// NewLocal creates a local backend.
func NewLocal() *Local { return &Local{} }

// OSPath translates a GenericPath to a native filesystem path.
func (l *Local) OSPath(p lakepath.GenericPath) string {
	joined := filepath.Join(p.Segments()...)
	if p.Relative() {
		if joined == "" {
			return "."
		}
		return joined
	}
	return string(filepath.Separator) + joined
}

// ReadFile implements Backend.
func (l *Local) ReadFile(_ context.Context, p lakepath.GenericPath) ([]byte, error) {
	path := l.OSPath(p)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile implements Backend. Data is written to a temporary file in the
// destination directory, fsynced and renamed into place.
func (l *Local) WriteFile(_ context.Context, p lakepath.GenericPath, data []byte) error {
	path := l.OSPath(p)
	return writeTmpThenMove(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// PlaceFile implements Backend. A hard link gives no-clobber placement
// within one filesystem; across filesystems the file is first copied next
// to dst and linked from there.
func (l *Local) PlaceFile(_ context.Context, src string, dst lakepath.GenericPath) error {
	dstPath := l.OSPath(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dstPath, err)
	}

	err := os.Link(src, dstPath)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		err = copyThenLink(src, dstPath)
	}
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("place %s: %w", dstPath, ErrExist)
		}
		return fmt.Errorf("place %s: %w", dstPath, err)
	}

	if err := syncDir(filepath.Dir(dstPath)); err != nil {
		return fmt.Errorf("sync dir of %s: %w", dstPath, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove placed source %s: %w", src, err)
	}
	return nil
}

// MkdirAll implements Backend.
func (l *Local) MkdirAll(_ context.Context, p lakepath.GenericPath) error {
	path := l.OSPath(p)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

// List implements Backend. Temporary files left by interrupted writes are
// skipped.
func (l *Local) List(_ context.Context, p lakepath.GenericPath) ([]string, error) {
	root := l.OSPath(p)
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	return out, nil
}

// Exists implements Backend.
func (l *Local) Exists(_ context.Context, p lakepath.GenericPath) (bool, error) {
	path := l.OSPath(p)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

const tmpSuffix = ".tmp"

// writeTmpThenMove writes through writeFunc to a temporary file next to
// outPath, fsyncs it and atomically renames it over outPath.
func writeTmpThenMove(outPath string, writeFunc func(f *os.File) error) error {
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outPath)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeFunc(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}
	return syncDir(dir)
}

// copyThenLink copies src into a temporary file in dst's directory and
// hard-links it to dst, which fails if dst exists.
func copyThenLink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmpPath, dst)
}

// syncDir fsyncs a directory so new entries are persisted.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
