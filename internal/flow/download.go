package flow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDownloadTimeout bounds one image fetch
	DefaultDownloadTimeout = 30 * time.Second
	// defaultImageCacheTTL keeps fetched bytes for repeated downloads of the same image
	defaultImageCacheTTL = 10 * time.Minute
	// imageCacheCleanupInterval is how often expired images are purged
	imageCacheCleanupInterval = 20 * time.Minute
)

// BytesFetcher is the subset of httpkit.ClientInterface used for downloads.
type BytesFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// ImageCacher caches image bytes by URL.
type ImageCacher interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, d time.Duration)
}

// Downloader fetches generated images. Concurrent fetches of the same URL share
// one request and results are cached briefly.
type Downloader struct {
	client BytesFetcher
	cache  ImageCacher
	ttl    time.Duration
	group  singleflight.Group
}

// NewDownloader creates a downloader over client and cache. Nil arguments get defaults.
func NewDownloader(client BytesFetcher, imageCache ImageCacher, ttl time.Duration) *Downloader {
	if client == nil {
		client = httpkit.New(DefaultDownloadTimeout)
	}
	if ttl <= 0 {
		ttl = defaultImageCacheTTL
	}
	if imageCache == nil {
		imageCache = cache.New(ttl, imageCacheCleanupInterval)
	}
	return &Downloader{client: client, cache: imageCache, ttl: ttl}
}

// Fetch implements ImageFetcher.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	if cached, found := d.cache.Get(url); found {
		if data, ok := cached.([]byte); ok {
			slog.Debug("Downloader.Fetch: cache hit", "url", url)
			return data, nil
		}
		slog.Warn("Downloader.Fetch: unexpected cached type", "url", url, "type", fmt.Sprintf("%T", cached))
	}

	// The shared fetch outlives any single caller; each caller can still stop waiting.
	ch := d.group.DoChan(url, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDownloadTimeout)
		defer cancel()
		data, err := d.client.FetchBytes(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		d.cache.Set(url, data, d.ttl)
		return data, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to fetch image: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", res.Err)
	}
	val, shared := res.Val, res.Shared
	data, ok := val.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected return type from singleflight: %T", val)
	}
	slog.Debug("Downloader.Fetch: image fetched", "url", url, "bytes", len(data), "shared", shared)
	return data, nil
}

// detectImageType sniffs the content type, defaulting to PNG for unknown data.
func detectImageType(data []byte) string {
	ct := http.DetectContentType(data)
	if ct == "application/octet-stream" {
		return "image/png"
	}
	return ct
}
