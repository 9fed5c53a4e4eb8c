package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads a URL into memory.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DefaultMaxSize caps a single download; the largest images are 16MB
// factory builds.
const DefaultMaxSize = 32 << 20

// HTTPFetcher fetches artifacts over HTTP(S).
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxSize   int64
}

// NewHTTPFetcher creates a fetcher with a per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "mh-flasher",
		MaxSize:   DefaultMaxSize,
	}
}

// Fetch downloads url, failing on non-2xx responses and oversized bodies.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	limit := f.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("body exceeds %d bytes", limit)}
	}
	return data, nil
}
