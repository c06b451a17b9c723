package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/storage"
)

func testResolver(t *testing.T, dir string) *lakepath.Resolver {
	t.Helper()
	r, err := lakepath.NewResolver(lakepath.Parse(dir), "hive", nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r
}

// lockerSuite runs the behaviour every Locker must share.
func lockerSuite(t *testing.T, newLocker func(t *testing.T) Locker) {
	t.Run("mutual exclusion", func(t *testing.T) {
		l := newLocker(t)
		scope := StreamScope("tap", "stream")

		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := With(context.Background(), l, scope, 10*time.Second, func(context.Context, *Guard) error {
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(20 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					return nil
				})
				if err != nil {
					t.Errorf("With failed: %v", err)
				}
			}()
		}
		wg.Wait()

		if maxInside != 1 {
			t.Errorf("max holders = %d, want 1", maxInside)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		l := newLocker(t)
		scope := TapScope("tap")
		g, err := l.Acquire(context.Background(), scope, time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		defer g.Release()

		start := time.Now()
		_, err = l.Acquire(context.Background(), scope, 150*time.Millisecond)
		var timeoutErr *lakeerr.LockTimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("Acquire error = %v, want LockTimeoutError", err)
		}
		if timeoutErr.Scope != "tap:tap" || timeoutErr.Timeout != 150*time.Millisecond {
			t.Errorf("LockTimeoutError = %+v", timeoutErr)
		}
		if time.Since(start) < 150*time.Millisecond {
			t.Errorf("Acquire returned before the timeout elapsed")
		}
	})

	t.Run("disjoint scopes", func(t *testing.T) {
		l := newLocker(t)
		a, err := l.Acquire(context.Background(), StreamScope("tap", "a"), time.Second)
		if err != nil {
			t.Fatalf("Acquire a failed: %v", err)
		}
		defer a.Release()
		b, err := l.Acquire(context.Background(), StreamScope("tap", "b"), 0)
		if err != nil {
			t.Fatalf("Acquire b failed while a held: %v", err)
		}
		defer b.Release()
		lk, err := l.Acquire(context.Background(), LakeScope(), 0)
		if err != nil {
			t.Fatalf("Acquire lake failed while streams held: %v", err)
		}
		lk.Release()
	})

	t.Run("release idempotent and reacquire", func(t *testing.T) {
		l := newLocker(t)
		scope := LakeScope()
		g, err := l.Acquire(context.Background(), scope, time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if err := g.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if err := g.Refresh(context.Background()); err != nil {
			t.Fatalf("second Refresh failed: %v", err)
		}
		if err := g.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if err := g.Release(); err != nil {
			t.Fatalf("second Release failed: %v", err)
		}
		if err := g.Refresh(context.Background()); !errors.Is(err, ErrReleased) {
			t.Errorf("Refresh after release = %v, want ErrReleased", err)
		}

		g2, err := l.Acquire(context.Background(), scope, 0)
		if err != nil {
			t.Fatalf("reacquire failed: %v", err)
		}
		g2.Release()
	})

	t.Run("with releases on error", func(t *testing.T) {
		l := newLocker(t)
		scope := TapScope("t")
		boom := errors.New("boom")
		err := With(context.Background(), l, scope, time.Second, func(context.Context, *Guard) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("With error = %v, want boom", err)
		}
		g, err := l.Acquire(context.Background(), scope, 0)
		if err != nil {
			t.Fatalf("lock not released after failing fn: %v", err)
		}
		g.Release()
	})

	t.Run("context cancel", func(t *testing.T) {
		l := newLocker(t)
		scope := TapScope("c")
		g, err := l.Acquire(context.Background(), scope, time.Second)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		defer g.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(ctx, scope, 10*time.Second)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Acquire error = %v, want context.DeadlineExceeded", err)
		}
	})
}

func TestMemoryLocker(t *testing.T) {
	lockerSuite(t, func(t *testing.T) Locker { return NewMemory() })
}

func TestLocalLocker(t *testing.T) {
	lockerSuite(t, func(t *testing.T) Locker {
		dir := t.TempDir()
		return NewLocal(storage.NewLocal(), testResolver(t, dir))
	})
}

func TestLocalLockPath(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(storage.NewLocal(), testResolver(t, dir))
	want := dir + "/raw/tap/stream/manifest.json.lock"
	if got := l.LockPath(StreamScope("tap", "stream")); got != want {
		t.Errorf("LockPath = %q, want %q", got, want)
	}
}

func TestScopeString(t *testing.T) {
	tests := map[string]Scope{
		"lake":              LakeScope(),
		"tap:t1":            TapScope("t1"),
		"stream:t1/entries": StreamScope("t1", "entries"),
	}
	for want, s := range tests {
		if s.String() != want {
			t.Errorf("Scope.String() = %q, want %q", s.String(), want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindLocal, "local": KindLocal, "s3": KindS3, "memory": KindMemory} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("redis"); !errors.Is(err, lakeerr.ErrConfig) {
		t.Errorf("ParseKind(redis) error = %v, want ErrConfig", err)
	}
}

func TestNewRejectsMismatchedBackend(t *testing.T) {
	_, err := New(Options{Kind: KindS3, Backend: storage.NewLocal()})
	if !errors.Is(err, lakeerr.ErrConfig) {
		t.Errorf("New error = %v, want ErrConfig", err)
	}
}
