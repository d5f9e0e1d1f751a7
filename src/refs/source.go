package refs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Source produces the current reference snapshot of a monitored repository.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// FetchError reports that the reference source could not be read.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPSource reads snapshots from a ref server's /info/{owner}/{repo} endpoint.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates a source for repository nwo ("owner/repo") on server.
func NewHTTPSource(server, nwo string) *HTTPSource {
	return &HTTPSource{
		url: InfoURL(server, nwo),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// InfoURL builds the snapshot endpoint for nwo on server.
func InfoURL(server, nwo string) string {
	return strings.TrimRight(server, "/") + "/info/" + strings.Trim(nwo, "/")
}

// URL returns the endpoint this source reads.
func (s *HTTPSource) URL() string {
	return s.url
}

// Fetch retrieves the current snapshot. Every failure is a *FetchError.
func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &FetchError{
			URL: s.url,
			Err: fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var snapshot Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("decode snapshot: %w", err)}
	}

	return snapshot, nil
}
