// Package recognize provides on-demand acoustic track recognition against
// an external fingerprinting service.
package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoMatch reports that the engine found no confident match for the
// sample. Adapter failures are distinct errors; callers that only care
// about "recognized or not" may treat them the same way.
var ErrNoMatch = errors.New("recognize: no match")

// Track is a recognized title/artist pair.
type Track struct {
	Title  string
	Artist string
}

// Recognizer performs a single recognition attempt for a sample buffer.
// No retries, no fallback beyond the implementation's own timeout.
type Recognizer interface {
	Recognize(ctx context.Context, sample []byte) (*Track, error)
}

// defaultTimeout bounds one recognition round-trip.
const defaultTimeout = 20 * time.Second

// Client calls an HTTP fingerprinting endpoint: the sample bytes are
// POSTed as-is and the service answers with the matched track, or with 404
// / an empty match for unknown audio.
type Client struct {
	url    string
	apiKey string
	httpc  *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	URL        string        // recognition endpoint, required
	APIKey     string        // optional bearer token
	Timeout    time.Duration // defaults to 20s
	HTTPClient *http.Client  // optional override, mainly for tests
}

// NewClient creates a recognition Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("recognize: endpoint URL is required")
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpc = &http.Client{Timeout: timeout}
	}
	return &Client{url: opts.URL, apiKey: opts.APIKey, httpc: httpc}, nil
}

// matchResponse mirrors the service's answer shape.
type matchResponse struct {
	Track struct {
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"` // artist
	} `json:"track"`
}

// Recognize submits sample for one recognition attempt.
func (c *Client) Recognize(ctx context.Context, sample []byte) (*Track, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("recognize: empty sample")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(sample))
	if err != nil {
		return nil, fmt.Errorf("recognize: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognize: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoMatch
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("recognize: service returned %s", resp.Status)
	}

	var mr matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("recognize: decode response: %w", err)
	}
	if mr.Track.Title == "" {
		return nil, ErrNoMatch
	}
	return &Track{Title: mr.Track.Title, Artist: mr.Track.Subtitle}, nil
}
