package tiles

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/peterbourgon/diskv/v3"
)

// Fetcher downloads style JSON, glyphs and sprites from an upstream host
// while the appliance still has connectivity, so a packaging run can bundle
// everything the frontend needs offline. Responses are cached on disk and
// served from cache on repeat fetches.
type Fetcher struct {
	client *http.Client
	cache  *diskv.Diskv
}

// NewFetcher creates a Fetcher with a disk cache rooted at cachedir.
func NewFetcher(cachedir string) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		cache: diskv.New(diskv.Options{
			// 64 MB cache
			CacheSizeMax: 64 * 1024 * 1024,
			BasePath:     cachedir,
			Transform: func(s string) []string {
				return []string{"assets"}
			},
		}),
	}
}

// Fetch returns the body and media type for the url, from cache when
// possible. The media type is sniffed from the content when the upstream
// does not declare one.
func (f *Fetcher) Fetch(ctx context.Context, url string) (body []byte, media string, err error) {
	key := cacheKey(url)

	if body, err = f.cache.Read(key); err == nil {
		return body, mimetype.Detect(body).String(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	media = resp.Header.Get("content-type")
	if media == "" {
		media = mimetype.Detect(body).String()
	}

	if err := f.cache.Write(key, body); err != nil {
		return nil, "", fmt.Errorf("cache write: %w", err)
	}
	return body, media, nil
}

// Cached reports whether the url is already in the cache.
func (f *Fetcher) Cached(url string) bool {
	return f.cache.Has(cacheKey(url))
}

// cacheKey addresses cache entries by the hash of the url, keeping the
// on-disk names flat and filesystem-safe.
func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
