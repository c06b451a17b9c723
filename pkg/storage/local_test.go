package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
)

func TestLocalWriteReadFile(t *testing.T) {
	ctx := context.Background()
	root := lakepath.Parse(t.TempDir())
	b := NewLocal()

	p := root.Extend("raw", "tap", "manifest.json")
	if err := b.WriteFile(ctx, p, []byte(`{"a": 1}`)); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := b.WriteFile(ctx, p, []byte(`{"a": 2}`)); err != nil {
		t.Fatalf("WriteFile overwrite failed: %v", err)
	}

	got, err := b.ReadFile(ctx, p)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != `{"a": 2}` {
		t.Errorf("ReadFile = %s, want overwritten content", got)
	}

	entries, err := os.ReadDir(b.OSPath(p.Parent()))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the manifest (no temp files)", len(entries))
	}
}

func TestLocalReadMissing(t *testing.T) {
	b := NewLocal()
	_, err := b.ReadFile(context.Background(), lakepath.Parse(t.TempDir()).Extend("nope.json"))
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("ReadFile error = %v, want ErrNotExist", err)
	}

	ok, err := b.Exists(context.Background(), lakepath.Parse(t.TempDir()).Extend("nope.json"))
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false, nil", ok, err)
	}
}

func TestLocalPlaceFileNoClobber(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := lakepath.Parse(dir)
	b := NewLocal()

	src := filepath.Join(dir, "spool-1")
	if err := os.WriteFile(src, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	dst := root.Extend("raw", "tap", "stream", "hash", "f.singer")
	if err := b.PlaceFile(ctx, src, dst); err != nil {
		t.Fatalf("PlaceFile failed: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("source still exists after PlaceFile: %v", err)
	}

	src2 := filepath.Join(dir, "spool-2")
	if err := os.WriteFile(src2, []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	err := b.PlaceFile(ctx, src2, dst)
	if !errors.Is(err, ErrExist) {
		t.Fatalf("PlaceFile error = %v, want ErrExist", err)
	}
	if _, err := os.Stat(src2); err != nil {
		t.Errorf("source removed after failed PlaceFile: %v", err)
	}

	got, err := b.ReadFile(ctx, dst)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("placed file = %q, want first content preserved", got)
	}
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	root := lakepath.Parse(t.TempDir())
	b := NewLocal()

	for _, p := range []string{"a/x.singer", "a/b/y.singer", "z.json"} {
		if err := b.WriteFile(ctx, root.Extend(strings.Split(p, "/")...), []byte("x")); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	got, err := b.List(ctx, root)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(got)
	want := []string{"a/b/y.singer", "a/x.singer", "z.json"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List = %v, want %v", got, want)
	}

	missing, err := b.List(ctx, root.Extend("missing"))
	if err != nil {
		t.Fatalf("List missing failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("List missing = %v, want empty", missing)
	}
}

func TestOSPath(t *testing.T) {
	b := NewLocal()
	if got := b.OSPath(lakepath.New(false, "tmp", "lake")); got != filepath.FromSlash("/tmp/lake") {
		t.Errorf("OSPath absolute = %q", got)
	}
	if got := b.OSPath(lakepath.New(true, "lake", "raw")); got != filepath.Join("lake", "raw") {
		t.Errorf("OSPath relative = %q", got)
	}
	if got := b.OSPath(lakepath.New(true)); got != "." {
		t.Errorf("OSPath empty relative = %q", got)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindLocal, "local": KindLocal, "S3": KindS3} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("gcs"); !errors.Is(err, lakeerr.ErrConfig) {
		t.Errorf("ParseKind(gcs) error = %v, want ErrConfig", err)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{Kind: KindS3})
	var cfgErr *lakeerr.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "store.s3.bucket" {
		t.Fatalf("New error = %v, want ConfigError on store.s3.bucket", err)
	}
}
