// Package lake ties storage, locking, manifests and writers into the lake
// service: initialization, tap and stream registration, write sessions,
// commit and reconciliation.
package lake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/config"
	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/lock"
	"github.com/eunmann/singerlake/pkg/manifest"
	"github.com/eunmann/singerlake/pkg/partition"
	"github.com/eunmann/singerlake/pkg/storage"
	"github.com/eunmann/singerlake/pkg/writer"
)

// Lake is a handle on one lake. It is safe for concurrent use; each
// RecordWriter it hands out is not.
type Lake struct {
	cfg         config.Config
	backend     storage.Backend
	resolver    *lakepath.Resolver
	store       *manifest.Store
	cache       *manifest.LakeCache
	partitionBy []partition.Granularity
	compression datafile.Compression
	now         func() time.Time
}

type options struct {
	s3Client storage.S3API
	backend  storage.Backend
	locker   lock.Locker
	now      func() time.Time
}

// Option customizes New.
type Option func(*options)

// WithS3Client uses client instead of one built from the AWS config chain.
func WithS3Client(client storage.S3API) Option {
	return func(o *options) { o.s3Client = client }
}

// WithBackend overrides the configured storage backend.
func WithBackend(b storage.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLocker overrides the configured locker.
func WithLocker(l lock.Locker) Option {
	return func(o *options) { o.locker = l }
}

// WithClock sets the clock used for first-observed times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and builds the backend, locker and resolver it selects.
// Configuration errors surface here as ConfigError.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Lake, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	partitionBy, err := partition.ParseBy(cfg.Writer.PartitionBy)
	if err != nil {
		return nil, err
	}
	compression, err := datafile.ParseCompression(cfg.Writer.Compression)
	if err != nil {
		return nil, err
	}
	resolver, err := lakepath.NewResolver(cfg.LakeRoot(), cfg.Store.Path.PathType, partitionBy)
	if err != nil {
		return nil, err
	}

	backend := o.backend
	if backend == nil {
		kind, err := storage.ParseKind(cfg.Store.StoreType)
		if err != nil {
			return nil, err
		}
		backend, err = storage.New(ctx, storage.Options{
			Kind: kind,
			S3: storage.S3Options{
				Bucket:    cfg.Store.S3.Bucket,
				Region:    cfg.Store.S3.Region,
				Endpoint:  cfg.Store.S3.Endpoint,
				PathStyle: cfg.Store.S3.PathStyle,
			},
			S3Client: o.s3Client,
		})
		if err != nil {
			return nil, err
		}
	}

	locker := o.locker
	if locker == nil {
		kind, err := lock.ParseKind(cfg.Store.Lock.LockType)
		if err != nil {
			return nil, err
		}
		locker, err = lock.New(lock.Options{Kind: kind, Backend: backend, Resolver: resolver, TTL: cfg.Store.Lock.TTL})
		if err != nil {
			return nil, err
		}
	}

	store := manifest.NewStore(backend, resolver, locker, cfg.Store.Lock.Timeout)
	return &Lake{
		cfg:         *cfg,
		backend:     backend,
		resolver:    resolver,
		store:       store,
		cache:       manifest.NewLakeCache(store),
		partitionBy: partitionBy,
		compression: compression,
		now:         o.now,
	}, nil
}

// Resolver returns the lake's path resolver.
func (l *Lake) Resolver() *lakepath.Resolver { return l.resolver }

// Store returns the manifest store.
func (l *Lake) Store() *manifest.Store { return l.store }

// Backend returns the storage backend.
func (l *Lake) Backend() storage.Backend { return l.backend }

// Init creates the lake manifest if it does not exist. An empty lakeID is
// replaced by a random one. An existing lake is returned unchanged.
func (l *Lake) Init(ctx context.Context, lakeID string) (*manifest.LakeManifest, error) {
	if lakeID == "" {
		lakeID = uuid.NewString()
	}
	m, created, err := l.store.InitLake(ctx, lakeID)
	if err != nil {
		return nil, err
	}
	l.cache.Invalidate()

	log := logctx.FromContext(ctx)
	if created {
		log.Info().Str("lake_id", m.LakeID).Str("root", l.resolver.Root().String()).Msg("initialized lake")
	} else {
		log.Debug().Str("lake_id", m.LakeID).Msg("lake already initialized")
	}
	return m, nil
}

// Manifest returns the lake manifest, reloading it only when it changed on
// the backend. It fails with ErrManifestNotFound on an uninitialized lake.
func (l *Lake) Manifest(ctx context.Context) (*manifest.LakeManifest, error) {
	m, _, err := l.cache.RefreshIfStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lake manifest: %w", err)
	}
	return m, nil
}

// Taps lists the registered taps.
func (l *Lake) Taps(ctx context.Context) ([]string, error) {
	m, err := l.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	return m.Taps, nil
}

// Streams lists the registered streams of a tap.
func (l *Lake) Streams(ctx context.Context, tapID string) ([]string, error) {
	if err := lakepath.ValidID("tap", tapID); err != nil {
		return nil, err
	}
	m, err := l.store.ReadTap(ctx, tapID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("tap %s: %w", tapID, lakeerr.ErrManifestNotFound)
	}
	return m.Streams, nil
}

// StreamManifest returns the manifest of a stream, or ErrManifestNotFound.
func (l *Lake) StreamManifest(ctx context.Context, tapID, streamID string) (*manifest.StreamManifest, error) {
	if err := checkStreamIDs(tapID, streamID); err != nil {
		return nil, err
	}
	m, err := l.store.ReadStream(ctx, tapID, streamID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("stream %s/%s: %w", tapID, streamID, lakeerr.ErrManifestNotFound)
	}
	return m, nil
}

// checkStreamIDs rejects tap and stream ids that would not stay a single
// directory under the lake root.
func checkStreamIDs(tapID, streamID string) error {
	if err := lakepath.ValidID("tap", tapID); err != nil {
		return err
	}
	return lakepath.ValidID("stream", streamID)
}

// RegisterTap creates the tap manifest and lists the tap in the lake
// manifest. The two scopes are taken one after the other.
func (l *Lake) RegisterTap(ctx context.Context, tapID string) error {
	if err := lakepath.ValidID("tap", tapID); err != nil {
		return err
	}
	if err := l.store.CreateTap(ctx, tapID); err != nil {
		return err
	}
	added, err := l.store.AddTapToLake(ctx, tapID)
	if err != nil {
		return err
	}
	if added {
		l.cache.Invalidate()
	}
	return nil
}

// RegisterStream lists streamID in its tap manifest.
func (l *Lake) RegisterStream(ctx context.Context, tapID, streamID string) error {
	if err := checkStreamIDs(tapID, streamID); err != nil {
		return err
	}
	_, err := l.store.AddStreamToTap(ctx, tapID, streamID)
	return err
}

// NewRecordWriter registers the tap and stream and opens a write session
// configured from the writer settings.
func (l *Lake) NewRecordWriter(ctx context.Context, tapID, streamID string) (*writer.RecordWriter, error) {
	if err := l.RegisterTap(ctx, tapID); err != nil {
		return nil, err
	}
	if err := l.RegisterStream(ctx, tapID, streamID); err != nil {
		return nil, err
	}
	return writer.NewRecordWriter(writer.Config{
		TapID:             tapID,
		StreamID:          streamID,
		PartitionBy:       l.partitionBy,
		MaxRecordsPerFile: l.cfg.Writer.MaxRecordsPerFile,
		MaxOpenFiles:      l.cfg.Writer.MaxOpenFiles,
		Compression:       l.compression,
		StagingDir:        l.cfg.Writer.StagingDir,
		Logger:            logctx.FromContext(ctx),
	}), nil
}
