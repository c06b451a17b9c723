package lock

import (
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/storage"
)

// Options configures New.
type Options struct {
	Kind     Kind
	Backend  storage.Backend
	Resolver *lakepath.Resolver
	// TTL is the lease lifetime of the s3 locker.
	TTL time.Duration
}

// New builds the Locker selected by opts.Kind. File and lease lockers need
// a backend of the matching kind.
func New(opts Options) (Locker, error) {
	switch opts.Kind {
	case KindMemory:
		return NewMemory(), nil
	case KindLocal:
		b, ok := opts.Backend.(*storage.Local)
		if !ok {
			return nil, lakeerr.NewConfigError("store.lock.lock_type", "local", "requires the local store type")
		}
		return NewLocal(b, opts.Resolver), nil
	case KindS3:
		b, ok := opts.Backend.(*storage.S3)
		if !ok {
			return nil, lakeerr.NewConfigError("store.lock.lock_type", "s3", "requires the s3 store type")
		}
		return NewS3(b, opts.Resolver, opts.TTL), nil
	}
	return nil, lakeerr.NewConfigError("store.lock.lock_type", opts.Kind.String(), "unsupported lock type")
}
