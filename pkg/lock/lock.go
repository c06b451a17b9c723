// Package lock provides mutual exclusion over manifest scopes.
//
// A scope is the lake, one tap, or one stream of a tap. Acquire blocks up to
// a timeout and returns a Guard; the holder may Refresh it while working and
// must Release it. With wraps acquire, work and release so that release
// happens on every path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
)

// DefaultTimeout is the acquire timeout used when none is configured.
const DefaultTimeout = 30 * time.Second

// pollInterval is how often a contended lock is retried.
const pollInterval = 50 * time.Millisecond

var (
	// ErrReleased is returned when refreshing a released guard.
	ErrReleased = errors.New("lock already released")
	// ErrLeaseLost is returned when a lease was broken or taken over.
	ErrLeaseLost = errors.New("lock lease lost")
)

type level int

const (
	lakeLevel level = iota
	tapLevel
	streamLevel
)

// Scope names the manifest a lock protects.
type Scope struct {
	level  level
	tap    string
	stream string
}

// LakeScope protects the lake manifest.
func LakeScope() Scope { return Scope{level: lakeLevel} }

// TapScope protects one tap manifest.
func TapScope(tapID string) Scope { return Scope{level: tapLevel, tap: tapID} }

// StreamScope protects one stream manifest.
func StreamScope(tapID, streamID string) Scope {
	return Scope{level: streamLevel, tap: tapID, stream: streamID}
}

func (s Scope) String() string {
	switch s.level {
	case tapLevel:
		return "tap:" + s.tap
	case streamLevel:
		return "stream:" + s.tap + "/" + s.stream
	}
	return "lake"
}

// ManifestPath returns the manifest the scope guards.
func (s Scope) ManifestPath(r *lakepath.Resolver) lakepath.GenericPath {
	switch s.level {
	case tapLevel:
		return r.TapManifestPath(s.tap)
	case streamLevel:
		return r.StreamManifestPath(s.tap, s.stream)
	}
	return r.LakeManifestPath()
}

// Locker acquires scope locks.
type Locker interface {
	// Acquire blocks until the scope is held, the timeout elapses
	// (LockTimeoutError) or ctx is done.
	Acquire(ctx context.Context, scope Scope, timeout time.Duration) (*Guard, error)
}

// lease is a held lock as seen by one Locker implementation.
type lease interface {
	refresh(ctx context.Context) error
	release() error
}

// Guard is a held lock.
type Guard struct {
	scope Scope

	mu       sync.Mutex
	lease    lease
	released bool
}

func newGuard(scope Scope, l lease) *Guard {
	return &Guard{scope: scope, lease: l}
}

// Scope returns the scope held.
func (g *Guard) Scope() Scope { return g.scope }

// Refresh extends the hold. It may be called any number of times while the
// guard is held.
func (g *Guard) Refresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return fmt.Errorf("refresh %s: %w", g.scope, ErrReleased)
	}
	if err := g.lease.refresh(ctx); err != nil {
		return fmt.Errorf("refresh %s: %w", g.scope, err)
	}
	return nil
}

// Release gives the lock up. Calls after the first are no-ops.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	if err := g.lease.release(); err != nil {
		return fmt.Errorf("release %s: %w", g.scope, err)
	}
	return nil
}

// With acquires scope, runs fn and releases the lock on every path,
// including a panic in fn. A release failure is joined to fn's error.
func With(ctx context.Context, l Locker, scope Scope, timeout time.Duration, fn func(ctx context.Context, g *Guard) error) (err error) {
	log := logctx.FromContext(ctx)
	start := time.Now()

	g, err := l.Acquire(ctx, scope, timeout)
	if err != nil {
		return err
	}
	log.Debug().
		Str("scope", scope.String()).
		Dur("wait", time.Since(start)).
		Msg("lock acquired")

	defer func() {
		if relErr := g.Release(); relErr != nil {
			err = errors.Join(err, relErr)
		}
		log.Debug().Str("scope", scope.String()).Msg("lock released")
	}()

	return fn(ctx, g)
}

// poll calls try until it acquires, fails, the timeout elapses or ctx is
// done. A non-positive timeout makes a single attempt.
func poll(ctx context.Context, scope Scope, timeout time.Duration, try func() (lease, bool, error)) (*Guard, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		l, ok, err := try()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", scope, err)
		}
		if ok {
			return newGuard(scope, l), nil
		}
		if !time.Now().Before(deadline) {
			return nil, &lakeerr.LockTimeoutError{Scope: scope.String(), Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", scope, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Kind selects a Locker implementation.
type Kind int

const (
	// KindLocal uses advisory file locks next to each manifest.
	KindLocal Kind = iota
	// KindS3 uses lease objects written with conditional puts.
	KindS3
	// KindMemory locks within the current process only.
	KindMemory
)

// ParseKind maps a configured lock type to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "local":
		return KindLocal, nil
	case "s3":
		return KindS3, nil
	case "memory":
		return KindMemory, nil
	}
	return 0, lakeerr.NewConfigError("store.lock.lock_type", s, "expected local, s3 or memory")
}

func (k Kind) String() string {
	switch k {
	case KindS3:
		return "s3"
	case KindMemory:
		return "memory"
	}
	return "local"
}
