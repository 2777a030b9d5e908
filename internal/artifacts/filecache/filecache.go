// Package filecache implements artifacts.DurableCache as a directory of
// plain files keyed by the sha256 of the fetch URL, in the same
// process-local, plain-file-persistence spirit as the teacher's own
// Ledger/Wallet JSON files (internal/zerocash/ledger.go, api.go's
// Wallet.Save) — here the payload is an opaque blob rather than JSON, so
// the file holds raw bytes instead.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a directory-backed artifacts.DurableCache.
type Cache struct {
	Dir string
}

// New returns a Cache rooted at dir, creating it if absent.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filecache: creating %s: %w", dir, err)
	}
	return &Cache{Dir: dir}, nil
}

func (c *Cache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.Dir, hex.EncodeToString(sum[:]))
}

// Get returns the cached bytes for url, or ok=false if never fetched.
func (c *Cache) Get(_ context.Context, url string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.pathFor(url))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("filecache: reading %s: %w", url, err)
	}
	return data, true, nil
}

// Put stores data for url, overwriting any previous contents.
func (c *Cache) Put(_ context.Context, url string, data []byte) error {
	tmp := c.pathFor(url) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filecache: writing %s: %w", url, err)
	}
	return os.Rename(tmp, c.pathFor(url))
}
