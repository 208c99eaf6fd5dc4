// Package upstream performs read-only GET requests against the marketplace
// endpoints and hands back untyped JSON.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"go.uber.org/zap"
)

const maxBodyBytes = 8 << 20

// ErrStatus is returned when an upstream answers with a non-2xx status.
var ErrStatus = errors.New("upstream: unexpected status")

// Client fetches JSON documents over HTTP, or from disk for file:// URLs.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a client with sane defaults.
func NewClient(opts ...func(*Client)) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient overrides the internal HTTP client.
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the internal HTTP client.
func WithTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) func(*Client) {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Get issues a GET for rawURL with the given query parameters and parses the
// response body as JSON.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*gabs.Container, error) {
	if strings.HasPrefix(rawURL, "file://") {
		return c.readFile(ctx, strings.TrimPrefix(rawURL, "file://"))
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: request %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream response",
		zap.String("url", u.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d from %s: %s", ErrStatus, resp.StatusCode, u.Redacted(), strings.TrimSpace(string(data)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}
	return Parse(body)
}

func (c *Client) readFile(ctx context.Context, path string) (*gabs.Container, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("upstream: read file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a JSON document keeping numbers as json.Number so that large
// identifiers survive unchanged.
func Parse(data []byte) (*gabs.Container, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := gabs.ParseJSONDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode JSON: %w", err)
	}
	return parsed, nil
}
