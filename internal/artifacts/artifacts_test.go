package artifacts

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type memDurable struct {
	data map[string][]byte
}

func newMemDurable() *memDurable { return &memDurable{data: make(map[string][]byte)} }

func (m *memDurable) Get(_ context.Context, url string) ([]byte, bool, error) {
	b, ok := m.data[url]
	return b, ok, nil
}

func (m *memDurable) Put(_ context.Context, url string, data []byte) error {
	m.data[url] = data
	return nil
}

type countingDoer struct {
	calls atomic.Int32
	body  []byte
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(bytes.NewReader(d.body)),
		ContentLength: int64(len(d.body)),
	}, nil
}

func TestFetchGoesToNetworkOnceThenBuffers(t *testing.T) {
	ctx := context.Background()
	doer := &countingDoer{body: []byte("proving-key-bytes")}
	c := New(doer, newMemDurable(), zerolog.Nop())

	b1, err := c.Fetch(ctx, NameProvingKey, "https://example/pk", nil)
	require.NoError(t, err)
	require.Equal(t, "proving-key-bytes", string(b1))
	require.EqualValues(t, 1, doer.calls.Load())

	b2, err := c.Fetch(ctx, NameProvingKey, "https://example/pk", nil)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
	require.EqualValues(t, 1, doer.calls.Load(), "second fetch must hit the in-process buffer, not the network")
}

func TestFetchPrefersDurableCacheOverNetwork(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	require.NoError(t, durable.Put(ctx, "https://example/constraints", []byte("cached-bytes")))
	doer := &countingDoer{body: []byte("should-not-be-fetched")}
	c := New(doer, durable, zerolog.Nop())

	b, err := c.Fetch(ctx, NameConstraints, "https://example/constraints", nil)
	require.NoError(t, err)
	require.Equal(t, "cached-bytes", string(b))
	require.EqualValues(t, 0, doer.calls.Load())
}

func TestFetchConcurrentCallersShareOneDownload(t *testing.T) {
	ctx := context.Background()
	doer := &countingDoer{body: []byte("circuit-binary-bytes")}
	c := New(doer, newMemDurable(), zerolog.Nop())

	const n = 8
	results := make([][]byte, n)
	errs := make([]error, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			b, err := c.Fetch(ctx, NameCircuitBinary, "https://example/circuit", nil)
			results[i], errs[i] = b, err
			done <- i
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "circuit-binary-bytes", string(results[i]))
	}
}

func TestClearEmptiesInProcessBufferNotDurable(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	doer := &countingDoer{body: []byte("bytes")}
	c := New(doer, durable, zerolog.Nop())

	_, err := c.Fetch(ctx, NameProvingKey, "https://example/pk", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, doer.calls.Load())

	c.Clear()
	_, err = c.Fetch(ctx, NameProvingKey, "https://example/pk", nil)
	require.NoError(t, err)
	// Durable cache still has it, so no second network call.
	require.EqualValues(t, 1, doer.calls.Load())
}

func TestChecksumIsDeterministic(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, Checksum([]byte("world")))
}
