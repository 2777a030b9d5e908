// Package artifacts implements the byte-exact lazy artifact cache (C9):
// proving_key, constraints, and circuit_binary are large, stable-URL blobs
// fetched at most once per process and cached durably across runs. Lookup
// order is in-process buffer -> durable cache -> network, with concurrent
// callers for the same URL sharing one in-flight download via
// golang.org/x/sync/singleflight — grounded on the teacher's
// p2p/node.go SendMessage retry-with-backoff shape for the network leg,
// and on singleflight's own canonical "dedup concurrent identical work"
// idiom for the download-sharing requirement in spec §4.7.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shieldedpool/client/internal/poolerr"
)

// Name identifies one of the three cacheable artifacts named in spec §4.7.
type Name string

const (
	NameProvingKey    Name = "proving_key"
	NameConstraints    Name = "constraints"
	NameCircuitBinary Name = "circuit_binary"
)

// ProgressFunc mirrors the Progress{loaded,total,message,percent} message
// the façade streams across the worker boundary (spec §4.7).
type ProgressFunc func(loaded, total int64, message string)

// DurableCache is the pluggable persistence layer underneath the
// in-process buffer — a concrete on-disk or store-backed implementation is
// an external collaborator's concern; this package only needs get/put
// keyed by URL.
type DurableCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Put(ctx context.Context, url string, data []byte) error
}

// HTTPDoer is the minimal surface *http.Client satisfies, so tests can
// substitute a stub round tripper.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache is the artifact cache façade.
type Cache struct {
	HTTP    HTTPDoer
	Durable DurableCache
	Log     zerolog.Logger

	mu      sync.RWMutex
	buffer  map[string][]byte // in-process layer, keyed by URL
	flight  singleflight.Group
}

// New constructs a Cache backed by durable and http (pass http.DefaultClient
// for production use).
func New(http HTTPDoer, durable DurableCache, log zerolog.Logger) *Cache {
	return &Cache{HTTP: http, Durable: durable, Log: log, buffer: make(map[string][]byte)}
}

// Fetch returns the artifact's bytes, checking the in-process buffer, then
// the durable cache, then the network, in that order. Concurrent Fetch
// calls for the same url share one in-flight download.
func (c *Cache) Fetch(ctx context.Context, name Name, url string, onProgress ProgressFunc) ([]byte, error) {
	if b, ok := c.fromBuffer(url); ok {
		if onProgress != nil {
			onProgress(int64(len(b)), int64(len(b)), fmt.Sprintf("%s: in-process cache hit", name))
		}
		return b, nil
	}

	result, err, _ := c.flight.Do(url, func() (interface{}, error) {
		if c.Durable != nil {
			if b, ok, derr := c.Durable.Get(ctx, url); derr == nil && ok {
				c.toBuffer(url, b)
				return b, nil
			}
		}
		b, err := c.download(ctx, name, url, onProgress)
		if err != nil {
			return nil, err
		}
		if c.Durable != nil {
			if err := c.Durable.Put(ctx, url, b); err != nil {
				// Cache-write failure must not fail the fetch: the bytes
				// are already good, just not durably cached yet.
				c.Log.Warn().Err(err).Str("url", url).Msg("artifact durable cache write failed")
			}
		}
		c.toBuffer(url, b)
		return b, nil
	})
	if err != nil {
		return nil, poolerr.Wrap(poolerr.ArtifactDownloadFailed, err, "fetching %s from %s", name, url)
	}
	return result.([]byte), nil
}

func (c *Cache) fromBuffer(url string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.buffer[url]
	return b, ok
}

func (c *Cache) toBuffer(url string, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer[url] = b
}

// Clear empties the in-process buffer (spec §4.7's ClearCache message);
// the durable layer is left untouched.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = make(map[string][]byte)
}

// maxRetries mirrors the teacher's p2p.Node retry count for transient
// network failures.
const maxRetries = 3

func (c *Cache) download(ctx context.Context, name Name, url string, onProgress ProgressFunc) ([]byte, error) {
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		b, err := c.downloadOnce(ctx, name, url, onProgress)
		if err == nil {
			return b, nil
		}
		lastErr = err
		c.Log.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("artifact download attempt failed")
	}
	return nil, lastErr
}

func (c *Cache) downloadOnce(ctx context.Context, name Name, url string, onProgress ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("artifacts: building request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artifacts: %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifacts: %s: unexpected status %d", name, resp.StatusCode)
	}

	total := resp.ContentLength
	counter := &progressReader{r: resp.Body, total: total, name: string(name), onProgress: onProgress}
	data, err := io.ReadAll(counter)
	if err != nil {
		return nil, fmt.Errorf("artifacts: %s: reading body: %w", name, err)
	}
	if onProgress != nil {
		onProgress(int64(len(data)), total, fmt.Sprintf("%s: download complete", name))
	}
	return data, nil
}

type progressReader struct {
	r          io.Reader
	loaded     int64
	total      int64
	name       string
	onProgress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.loaded, p.total, p.name)
		}
	}
	return n, err
}

// Checksum returns the lower-case hex sha256 digest of b. Fetch does not
// call it; fetched artifacts are not checked against any digest.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
