// Package rates fetches the currency rate widget payload over HTTP.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitrine-media/vitrine/pkg/models"
)

// maxBody bounds the response we are willing to decode.
const maxBody = 1 << 20

// Client reads a JSON document of the form {"base": "EUR", "rates": {...}}.
type Client struct {
	url  string
	http *http.Client
	now  func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock replaces time.Now for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for url.
func New(url string, opts ...Option) *Client {
	c := &Client{url: url, http: http.DefaultClient, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Rates fetches the current rates. FetchedAt is the time of retrieval.
func (c *Client) Rates(ctx context.Context) (*models.Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch rates: status %d: %s", resp.StatusCode, body)
	}

	var doc struct {
		Base  string             `json:"base"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if doc.Base == "" || len(doc.Rates) == 0 {
		return nil, fmt.Errorf("decode rates: empty document")
	}
	return &models.Rates{Base: doc.Base, Values: doc.Rates, FetchedAt: c.now()}, nil
}
