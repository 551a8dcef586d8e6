package jwks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxJWKSBodyBytes = 1 << 20

// HTTPClient abstracts the client used to fetch key sets.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves the remote key set.
type Fetcher interface {
	Fetch(ctx context.Context) (*KeySet, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*KeySet, error)

func (f FetcherFunc) Fetch(ctx context.Context) (*KeySet, error) { return f(ctx) }

// HTTPFetcher GETs a JWKS document with a bounded timeout and body size.
type HTTPFetcher struct {
	URL     string
	Client  HTTPClient
	Timeout time.Duration
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*KeySet, error) {
	if f.URL == "" {
		return nil, fmt.Errorf("jwks url is not configured")
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read jwks response: %w", err)
	}

	set, err := ParseKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks json: %w", err)
	}
	return set, nil
}
