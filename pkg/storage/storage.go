// Package storage abstracts the filesystem or object store a lake lives on.
//
// Backends address files by lakepath.GenericPath. Writes are atomic: a
// reader sees either the old bytes or the new bytes, never a mix. Data files
// are placed with no-clobber semantics so a committed file is never
// overwritten.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
)

var (
	// ErrNotExist is returned (wrapped) when a file is absent.
	ErrNotExist = errors.New("file does not exist")
	// ErrExist is returned (wrapped) when PlaceFile finds the destination taken.
	ErrExist = errors.New("file already exists")
)

// Backend is the storage a lake is written to.
type Backend interface {
	// ReadFile returns the whole file, or an error wrapping ErrNotExist.
	ReadFile(ctx context.Context, p lakepath.GenericPath) ([]byte, error)
	// WriteFile atomically replaces the file, creating parent directories.
	WriteFile(ctx context.Context, p lakepath.GenericPath, data []byte) error
	// PlaceFile moves the local file src to dst. It never replaces an
	// existing dst and returns an error wrapping ErrExist instead. On
	// success src no longer exists.
	PlaceFile(ctx context.Context, src string, dst lakepath.GenericPath) error
	// MkdirAll creates a directory and its parents.
	MkdirAll(ctx context.Context, p lakepath.GenericPath) error
	// List returns every file below p as slash separated paths relative to
	// p. A missing p yields an empty list.
	List(ctx context.Context, p lakepath.GenericPath) ([]string, error)
	// Exists reports whether a file exists at p.
	Exists(ctx context.Context, p lakepath.GenericPath) (bool, error)
}

// Kind selects a Backend implementation.
type Kind int

const (
	// KindLocal stores the lake on a local or mounted filesystem.
	KindLocal Kind = iota
	// KindS3 stores the lake in an S3 bucket.
	KindS3
)

// ParseKind maps a configured store type to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "local":
		return KindLocal, nil
	case "s3":
		return KindS3, nil
	}
	return 0, lakeerr.NewConfigError("store.store_type", s, "expected local or s3")
}

func (k Kind) String() string {
	if k == KindS3 {
		return "s3"
	}
	return "local"
}

// Options configures New.
type Options struct {
	Kind Kind
	S3   S3Options
	// S3Client overrides the client built from S3 options.
	S3Client S3API
}

// New builds the backend selected by opts.Kind.
func New(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case KindLocal:
		return NewLocal(), nil
	case KindS3:
		if opts.S3.Bucket == "" {
			return nil, lakeerr.NewConfigError("store.s3.bucket", "", "required for s3 store")
		}
		client := opts.S3Client
		if client == nil {
			c, err := NewS3Client(ctx, opts.S3)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return NewS3(client, opts.S3.Bucket), nil
	}
	return nil, lakeerr.NewConfigError("store.store_type", opts.Kind.String(), "unsupported store type")
}
