// Package catalog looks up track descriptors from the catalog service.
// Descriptors are carried as opaque payload data and never mutated by the
// engine; a lookup failure degrades to whatever track the host supplied.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cb3tech/moshcast/internal/domain"
)

// Client fetches track metadata. Nil-safe: a nil *HTTPClient resolves
// nothing.
type Client interface {
	Track(ctx context.Context, id string) (*domain.Track, error)
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		return nil
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Track(ctx context.Context, id string) (*domain.Track, error) {
	if c == nil {
		return nil, fmt.Errorf("catalog not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tracks/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog lookup: status %d", resp.StatusCode)
	}
	var t domain.Track
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}
	return &t, nil
}
