package manifest

import (
	"context"
	"sync"
)

// LakeCache holds the last loaded lake manifest and the checksum of the
// bytes it was decoded from. Callers decide when to revalidate.
type LakeCache struct {
	store *Store

	mu       sync.Mutex
	manifest *LakeManifest
	checksum string
}

// NewLakeCache creates an empty cache over store.
func NewLakeCache(store *Store) *LakeCache {
	return &LakeCache{store: store}
}

// Get returns the cached manifest, loading it on first use. The result is a
// copy. It fails with ErrManifestNotFound when the lake is uninitialized.
func (c *LakeCache) Get(ctx context.Context) (*LakeManifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest == nil {
		if err := c.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c.manifest.Clone(), nil
}

// Stale reports whether the manifest on the backend differs from the cached
// one. An empty cache is stale.
func (c *LakeCache) Stale(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest == nil {
		return true, nil
	}
	sum, err := c.store.LakeChecksum(ctx)
	if err != nil {
		return false, err
	}
	return sum != c.checksum, nil
}

// RefreshIfStale reloads the manifest when it changed on the backend and
// reports whether it did.
func (c *LakeCache) RefreshIfStale(ctx context.Context) (*LakeManifest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manifest != nil {
		sum, err := c.store.LakeChecksum(ctx)
		if err != nil {
			return nil, false, err
		}
		if sum == c.checksum {
			return c.manifest.Clone(), false, nil
		}
	}
	if err := c.loadLocked(ctx); err != nil {
		return nil, false, err
	}
	return c.manifest.Clone(), true, nil
}

// Invalidate drops the cached manifest.
func (c *LakeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifest = nil
	c.checksum = ""
}

func (c *LakeCache) loadLocked(ctx context.Context) error {
	m, sum, err := c.store.readLakeWithChecksum(ctx)
	if err != nil {
		return err
	}
	c.manifest = m
	c.checksum = sum
	return nil
}
