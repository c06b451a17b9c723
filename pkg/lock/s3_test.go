package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eunmann/singerlake/internal/s3test"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/storage"
)

func newS3Locker(t *testing.T, fake *s3test.Fake) *S3 {
	t.Helper()
	r, err := lakepath.NewResolver(lakepath.New(true, "lake"), "hive", nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return NewS3(storage.NewS3(fake, "bucket"), r, time.Minute)
}

func TestS3Locker(t *testing.T) {
	lockerSuite(t, func(t *testing.T) Locker { return newS3Locker(t, s3test.New()) })
}

func TestS3LeaseObject(t *testing.T) {
	fake := s3test.New()
	l := newS3Locker(t, fake)

	g, err := l.Acquire(context.Background(), TapScope("tap"), time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, ok := fake.Object("lake/raw/tap/manifest.json.lock"); !ok {
		t.Fatalf("lease object missing, have %v", fake.Keys())
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(fake.Keys()) != 0 {
		t.Errorf("lease not deleted: %v", fake.Keys())
	}
}

func TestS3BreaksExpiredLease(t *testing.T) {
	fake := s3test.New()
	stale := newS3Locker(t, fake)
	stale.now = func() time.Time { return time.Now().Add(-time.Hour) }

	scope := StreamScope("tap", "stream")
	old, err := stale.Acquire(context.Background(), scope, time.Second)
	if err != nil {
		t.Fatalf("stale Acquire failed: %v", err)
	}

	fresh := newS3Locker(t, fake)
	g, err := fresh.Acquire(context.Background(), scope, 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire over expired lease failed: %v", err)
	}
	defer g.Release()

	if err := old.Refresh(context.Background()); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("stale Refresh = %v, want ErrLeaseLost", err)
	}
	if err := old.Release(); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("stale Release = %v, want ErrLeaseLost", err)
	}
	if err := g.Refresh(context.Background()); err != nil {
		t.Errorf("fresh Refresh failed: %v", err)
	}
}
