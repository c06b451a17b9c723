//go:build !unix

package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/storage"
)

// LockSuffix is appended to a manifest path to name its lock file.
const LockSuffix = ".lock"

// Local locks scopes by exclusively creating a lock file next to each
// manifest. A crashed holder leaves the file behind and must be cleaned up
// by hand.
type Local struct {
	backend  *storage.Local
	resolver *lakepath.Resolver
}

// NewLocal creates a file lock Locker for a lake on backend.
func NewLocal(backend *storage.Local, resolver *lakepath.Resolver) *Local {
	return &Local{backend: backend, resolver: resolver}
}

// LockPath returns the lock file for scope.
func (l *Local) LockPath(scope Scope) string {
	return l.backend.OSPath(scope.ManifestPath(l.resolver)) + LockSuffix
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, scope Scope, timeout time.Duration) (*Guard, error) {
	path := l.LockPath(scope)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir for %s: %w", scope, err)
	}

	return poll(ctx, scope, timeout, func() (lease, bool, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("create lock file: %w", err)
		}
		return &exclLease{f: f}, true, nil
	})
}

type exclLease struct {
	f *os.File
}

func (l *exclLease) refresh(context.Context) error {
	now := time.Now()
	return os.Chtimes(l.f.Name(), now, now)
}

func (l *exclLease) release() error {
	closeErr := l.f.Close()
	return errors.Join(closeErr, os.Remove(l.f.Name()))
}
