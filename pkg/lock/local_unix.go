//go:build unix

package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/storage"
)

// LockSuffix is appended to a manifest path to name its lock file.
const LockSuffix = ".lock"

// Local locks scopes with flock(2) on a lock file next to each manifest.
// Locks are held per open file, so two Acquire calls in one process exclude
// each other as well.
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
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, false, fmt.Errorf("open lock file: %w", err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("flock %s: %w", path, err)
		}
		return &flockLease{f: f}, true, nil
	})
}

type flockLease struct {
	f *os.File
}

// refresh touches the lock file so observers can see the holder is alive.
func (l *flockLease) refresh(context.Context) error {
	now := time.Now()
	return os.Chtimes(l.f.Name(), now, now)
}

func (l *flockLease) release() error {
	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	return errors.Join(unlockErr, closeErr)
}
