package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBytesFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
	delay time.Duration
}

func (m *mockBytesFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.data, m.err
}

func TestDownloaderCachesBytes(t *testing.T) {
	m := &mockBytesFetcher{data: []byte("img")}
	d := NewDownloader(m, cache.New(time.Minute, time.Minute), time.Minute)

	for i := 0; i < 3; i++ {
		data, err := d.Fetch(context.Background(), "https://img/a.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("img"), data)
	}
	assert.Equal(t, int32(1), m.calls.Load())
}

func TestDownloaderCoalescesConcurrentFetches(t *testing.T) {
	m := &mockBytesFetcher{data: []byte("img"), delay: 50 * time.Millisecond}
	d := NewDownloader(m, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Fetch(context.Background(), "https://img/b.png")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, m.calls.Load(), int32(2))
}

// gatedFetcher blocks until release is closed or its own context ends.
type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return []byte("img"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDownloaderSharedFetchSurvivesFirstCallerLeaving(t *testing.T) {
	g := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDownloader(g, nil, 0)
	const url = "https://img/shared.png"

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.Fetch(firstCtx, url)
		firstErr <- err
	}()
	<-g.started

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := d.Fetch(context.Background(), url)
		second <- result{data, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("first caller did not return after cancel")
	}

	close(g.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, []byte("img"), r.data)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never received the image")
	}
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestDownloaderError(t *testing.T) {
	m := &mockBytesFetcher{err: errors.New("404")}
	d := NewDownloader(m, nil, 0)

	_, err := d.Fetch(context.Background(), "https://img/c.png")
	require.Error(t, err)
	_, err = d.Fetch(context.Background(), "https://img/c.png")
	require.Error(t, err)
	assert.Equal(t, int32(2), m.calls.Load(), "failures must not be cached")
}

func TestDetectImageType(t *testing.T) {
	assert.Equal(t, "image/png", detectImageType([]byte("\x89PNG\r\n\x1a\n")))
	assert.Equal(t, "image/jpeg", detectImageType([]byte("\xff\xd8\xff\xe0")))
	assert.Equal(t, "image/png", detectImageType([]byte{0x00, 0x01}))
}
