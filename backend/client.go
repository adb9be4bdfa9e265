// Package backend talks to the environment-variable service on behalf of a
// credential holder. Every call authenticates with the caller's credential as
// a bearer token and is bounded by the client's per-call timeout.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout  = 5 * time.Second
	maxResponseSize = 1 << 20
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient sets the client whose transport carries the requests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Client) {
		b.httpClient = c
	}
}

// WithTimeout bounds each individual call.
func WithTimeout(d time.Duration) Option {
	return func(b *Client) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		timeout:    defaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Do sends one request authenticated as credential. A non-nil body is sent as
// JSON; a 2xx JSON response is decoded into out when out is non-nil.
//
// Transport failures, timeouts and gateway statuses (502, 503, 504) wrap
// errors.ErrBackendUnavailable. Any other non-2xx status is a *StatusError.
func (c *Client) Do(ctx context.Context, credential, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.authorised(ctx, credential).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", apperrors.ErrBackendUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read %s %s response: %w", apperrors.ErrBackendUnavailable, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := newStatusError(method, path, resp.StatusCode, raw)
		if isGatewayStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, statusErr)
		}
		return statusErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// authorised wraps the base client so the credential travels as a bearer
// token and never appears in the request URL.
func (c *Client) authorised(ctx context.Context, credential string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: credential,
		TokenType:   "Bearer",
	}))
}

func isGatewayStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}
