package manifest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/lock"
	"github.com/eunmann/singerlake/pkg/storage"
)

// Store reads and writes manifests on a backend and performs the locked
// read-modify-write updates of the catalog.
type Store struct {
	backend     storage.Backend
	resolver    *lakepath.Resolver
	locker      lock.Locker
	lockTimeout time.Duration
}

// NewStore creates a Store. lockTimeout bounds every scope acquisition.
func NewStore(backend storage.Backend, resolver *lakepath.Resolver, locker lock.Locker, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = lock.DefaultTimeout
	}
	return &Store{backend: backend, resolver: resolver, locker: locker, lockTimeout: lockTimeout}
}

// Resolver returns the path resolver the store writes through.
func (s *Store) Resolver() *lakepath.Resolver { return s.resolver }

// readRaw returns the bytes at p, or nil when the file is absent.
func (s *Store) readRaw(ctx context.Context, p lakepath.GenericPath) ([]byte, error) {
	data, err := s.backend.ReadFile(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return data, nil
}

func decode[T any](p lakepath.GenericPath, data []byte) (*T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &lakeerr.ManifestDecodeError{Path: p.String(), Err: err}
	}
	return &m, nil
}

func read[T any](ctx context.Context, s *Store, p lakepath.GenericPath) (*T, error) {
	data, err := s.readRaw(ctx, p)
	if err != nil || data == nil {
		return nil, err
	}
	return decode[T](p, data)
}

func (s *Store) write(ctx context.Context, p lakepath.GenericPath, m any) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest %s: %w", p, err)
	}
	data = append(data, '\n')
	if err := s.backend.WriteFile(ctx, p, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadLake returns the lake manifest, or nil when it does not exist.
func (s *Store) ReadLake(ctx context.Context) (*LakeManifest, error) {
	m, err := read[LakeManifest](ctx, s, s.resolver.LakeManifestPath())
	if m != nil {
		m.normalize()
	}
	return m, err
}

// ReadTap returns a tap manifest, or nil when it does not exist.
func (s *Store) ReadTap(ctx context.Context, tapID string) (*TapManifest, error) {
	m, err := read[TapManifest](ctx, s, s.resolver.TapManifestPath(tapID))
	if m != nil {
		m.normalize()
	}
	return m, err
}

// ReadStream returns a stream manifest, or nil when it does not exist.
func (s *Store) ReadStream(ctx context.Context, tapID, streamID string) (*StreamManifest, error) {
	m, err := read[StreamManifest](ctx, s, s.resolver.StreamManifestPath(tapID, streamID))
	if m != nil {
		m.normalize()
	}
	return m, err
}

// WriteLake replaces the lake manifest.
func (s *Store) WriteLake(ctx context.Context, m *LakeManifest) error {
	m.normalize()
	return s.write(ctx, s.resolver.LakeManifestPath(), m)
}

// WriteTap replaces a tap manifest.
func (s *Store) WriteTap(ctx context.Context, m *TapManifest) error {
	m.normalize()
	return s.write(ctx, s.resolver.TapManifestPath(m.TapID), m)
}

// WriteStream replaces a stream manifest of tapID.
func (s *Store) WriteStream(ctx context.Context, tapID string, m *StreamManifest) error {
	m.normalize()
	return s.write(ctx, s.resolver.StreamManifestPath(tapID, m.StreamID), m)
}

// Checksum returns the MD5 hex digest of raw manifest bytes. It detects
// change only and is not an integrity check.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// LakeChecksum returns the checksum of the lake manifest on the backend.
func (s *Store) LakeChecksum(ctx context.Context) (string, error) {
	p := s.resolver.LakeManifestPath()
	data, err := s.readRaw(ctx, p)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("%s: %w", p, lakeerr.ErrManifestNotFound)
	}
	return Checksum(data), nil
}

// readLakeWithChecksum decodes and checksums one read of the lake manifest.
func (s *Store) readLakeWithChecksum(ctx context.Context) (*LakeManifest, string, error) {
	p := s.resolver.LakeManifestPath()
	data, err := s.readRaw(ctx, p)
	if err != nil {
		return nil, "", err
	}
	if data == nil {
		return nil, "", fmt.Errorf("%s: %w", p, lakeerr.ErrManifestNotFound)
	}
	m, err := decode[LakeManifest](p, data)
	if err != nil {
		return nil, "", err
	}
	m.normalize()
	return m, Checksum(data), nil
}

// InitLake writes an empty lake manifest with lakeID unless one exists. It
// returns the manifest on disk and whether this call created it.
func (s *Store) InitLake(ctx context.Context, lakeID string) (*LakeManifest, bool, error) {
	var (
		out     *LakeManifest
		created bool
	)
	err := lock.With(ctx, s.locker, lock.LakeScope(), s.lockTimeout, func(ctx context.Context, _ *lock.Guard) error {
		m, err := s.ReadLake(ctx)
		if err != nil {
			return err
		}
		if m != nil {
			out = m
			return nil
		}
		if err := s.backend.MkdirAll(ctx, s.resolver.RawPath()); err != nil {
			return err
		}
		out = &LakeManifest{LakeID: lakeID}
		created = true
		return s.WriteLake(ctx, out)
	})
	if err != nil {
		return nil, false, fmt.Errorf("init lake: %w", err)
	}
	return out, created, nil
}

// CreateTap creates the tap directory and an empty tap manifest. An
// existing manifest is left untouched.
func (s *Store) CreateTap(ctx context.Context, tapID string) error {
	err := lock.With(ctx, s.locker, lock.TapScope(tapID), s.lockTimeout, func(ctx context.Context, _ *lock.Guard) error {
		if err := s.backend.MkdirAll(ctx, s.resolver.TapPath(tapID)); err != nil {
			return err
		}
		m, err := s.ReadTap(ctx, tapID)
		if err != nil || m != nil {
			return err
		}
		log := logctx.FromContext(ctx)
		log.Info().Str("tap_id", tapID).Msg("created tap manifest")
		return s.WriteTap(ctx, &TapManifest{TapID: tapID})
	})
	if err != nil {
		return fmt.Errorf("create tap %s: %w", tapID, err)
	}
	return nil
}

// AddStreamToTap registers streamID in the tap manifest if absent, creating
// the tap manifest when missing. It reports whether the stream was added.
func (s *Store) AddStreamToTap(ctx context.Context, tapID, streamID string) (bool, error) {
	added := false
	err := lock.With(ctx, s.locker, lock.TapScope(tapID), s.lockTimeout, func(ctx context.Context, _ *lock.Guard) error {
		m, err := s.ReadTap(ctx, tapID)
		if err != nil {
			return err
		}
		if m == nil {
			m = &TapManifest{TapID: tapID}
		}
		if !m.AddStream(streamID) {
			return nil
		}
		added = true
		return s.WriteTap(ctx, m)
	})
	if err != nil {
		return false, fmt.Errorf("add stream %s to tap %s: %w", streamID, tapID, err)
	}
	if added {
		log := logctx.FromContext(ctx)
		log.Info().Str("tap_id", tapID).Str("stream_id", streamID).Msg("registered stream")
	}
	return added, nil
}

// AddTapToLake registers tapID in the lake manifest if absent. The lake
// must be initialized. It reports whether the tap was added.
func (s *Store) AddTapToLake(ctx context.Context, tapID string) (bool, error) {
	added := false
	err := lock.With(ctx, s.locker, lock.LakeScope(), s.lockTimeout, func(ctx context.Context, _ *lock.Guard) error {
		m, err := s.ReadLake(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%s: %w", s.resolver.LakeManifestPath(), lakeerr.ErrManifestNotFound)
		}
		if !m.AddTap(tapID) {
			return nil
		}
		added = true
		return s.WriteLake(ctx, m)
	})
	if err != nil {
		return false, fmt.Errorf("add tap %s to lake: %w", tapID, err)
	}
	if added {
		log := logctx.FromContext(ctx)
		log.Info().Str("tap_id", tapID).Msg("registered tap")
	}
	return added, nil
}

// UpdateStream runs fn on the current stream manifest (a new empty one when
// absent) while holding the stream lock, and writes the result back when fn
// reports a change. The lease is refreshed between fn and the write.
func (s *Store) UpdateStream(ctx context.Context, tapID, streamID string, fn func(ctx context.Context, g *lock.Guard, m *StreamManifest) (bool, error)) error {
	err := lock.With(ctx, s.locker, lock.StreamScope(tapID, streamID), s.lockTimeout, func(ctx context.Context, g *lock.Guard) error {
		m, err := s.ReadStream(ctx, tapID, streamID)
		if err != nil {
			return err
		}
		if m == nil {
			m = &StreamManifest{StreamID: streamID}
			m.normalize()
		}
		changed, err := fn(ctx, g, m)
		if err != nil || !changed {
			return err
		}
		if err := g.Refresh(ctx); err != nil {
			return err
		}
		return s.WriteStream(ctx, tapID, m)
	})
	if err != nil {
		return fmt.Errorf("update stream %s/%s: %w", tapID, streamID, err)
	}
	return nil
}
