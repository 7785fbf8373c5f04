// Package httpclient provides a JSON HTTP client over one shared session.
//
// Every call returns the decoded JSON body together with the response status code. Non-2xx
// statuses are not errors; bodies that are not valid JSON are.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sheetwithoutsheet/swscore"
	"github.com/sheetwithoutsheet/swscore/encoding"
)

// DefaultTimeout is the total timeout applied to each request unless overridden with WithTimeout.
const DefaultTimeout = 60 * time.Second

// ErrClosed is returned by requests issued after Close.
var ErrClosed = errors.New("http client is closed")

type options struct {
	timeout   time.Duration
	transport http.RoundTripper
}

// Option customizes a Client.
type Option func(*options)

// WithTimeout overrides the total per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithTransport sets the underlying round tripper. It is still wrapped for tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// Client issues JSON requests through one persistent session.
type Client struct {
	mux          sync.RWMutex
	http         *http.Client
	base         http.RoundTripper
	closeTimeout time.Duration
}

// New opens the session eagerly.
func New(opts ...Option) *Client {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Client{
		http: &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(o.transport),
		},
		base:         o.transport,
		closeTimeout: swscore.CloseTimeout,
	}
}

// Timeout returns the session's per-request timeout.
func (c *Client) Timeout() time.Duration {
	hc, err := c.session()
	if err != nil {
		return 0
	}
	return hc.Timeout
}

func (c *Client) session() (*http.Client, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	if c.http == nil {
		return nil, ErrClosed
	}
	return c.http, nil
}

// Close releases idle connections held by the session, bounded by swscore.CloseTimeout.
func (c *Client) Close(ctx context.Context) error {
	c.mux.Lock()
	hc := c.http
	c.http = nil
	c.mux.Unlock()
	if hc == nil {
		return nil
	}
	_, err := swscore.BoundedWait(ctx, "http session close", c.closeTimeout, func(context.Context) (struct{}, error) {
		hc.CloseIdleConnections()
		if ci, ok := c.base.(interface{ CloseIdleConnections() }); ok {
			ci.CloseIdleConnections()
		}
		return struct{}{}, nil
	})
	return err
}

// Get issues a GET with params URL-encoded into the query string.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header, params map[string]any) (any, int, error) {
	u, err := WithQuery(rawURL, params)
	if err != nil {
		return nil, 0, err
	}
	return c.do(ctx, http.MethodGet, u, headers, nil)
}

// Post issues a POST with body encoded as JSON. A nil body sends no content.
func (c *Client) Post(ctx context.Context, rawURL string, headers http.Header, body any) (any, int, error) {
	return c.do(ctx, http.MethodPost, rawURL, headers, body)
}

// Put issues a PUT with body encoded as JSON. A nil body sends no content.
func (c *Client) Put(ctx context.Context, rawURL string, headers http.Header, body any) (any, int, error) {
	return c.do(ctx, http.MethodPut, rawURL, headers, body)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, rawURL string, headers http.Header) (any, int, error) {
	return c.do(ctx, http.MethodDelete, rawURL, headers, nil)
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers http.Header, body any) (any, int, error) {
	hc, err := c.session()
	if err != nil {
		return nil, 0, err
	}

	var r io.Reader
	if body != nil {
		ba, err := encoding.DefaultMarshaler.Marshal(body)
		if err != nil {
			return nil, 0, swscore.NewError(swscore.SerializationError, fmt.Errorf("http %s body marshal failed: %w", method, err), rawURL)
		}
		r = bytes.NewReader(ba)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, r)
	if err != nil {
		return nil, 0, fmt.Errorf("http %s request build failed: %w", method, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "swscore/"+swscore.Version)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http %s %s failed: %w", method, redact(req.URL), err)
	}
	defer resp.Body.Close()

	ba, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("http %s %s read body failed: %w", method, redact(req.URL), err)
	}
	log.Debug("http response", "method", method, "url", redact(req.URL), "status", resp.StatusCode, "bytes", len(ba))

	if len(bytes.TrimSpace(ba)) == 0 {
		return nil, resp.StatusCode, nil
	}
	var v any
	if err := encoding.DefaultMarshaler.Unmarshal(ba, &v); err != nil {
		return nil, resp.StatusCode, swscore.NewError(swscore.UpstreamError,
			fmt.Errorf("http %s %s returned a non-JSON body: %w", method, redact(req.URL), err), resp.StatusCode)
	}
	return v, resp.StatusCode, nil
}

// WithQuery merges params into rawURL's query string. Slice values become repeated keys;
// everything else is formatted with fmt.Sprint. An empty params map leaves rawURL as is.
func WithQuery(rawURL string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Del(k)
		switch vs := v.(type) {
		case []string:
			for _, s := range vs {
				q.Add(k, s)
			}
		case []any:
			for _, s := range vs {
				q.Add(k, fmt.Sprint(s))
			}
		default:
			q.Set(k, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact strips the query string, which may carry tokens, from logged URLs.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
