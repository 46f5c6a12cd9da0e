// Package rest is the shared HTTP client used by every vendor package. It
// owns base-URL joining, auth, rate limiting, JSON encoding and the mapping of
// non-2xx responses to *StatusError.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// MaxResponseBytes caps how much of a vendor response is read.
const MaxResponseBytes = 4 << 20

// Client issues requests against one vendor base URL. Safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	auth    Authenticator
	headers http.Header
	limiter *rate.Limiter
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default retrying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAuth sets the authenticator applied to every request.
func WithAuth(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithHeader adds a static header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithRateLimit bounds outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger for request-level debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("rest.New: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest.New: base url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("rest.New: base url %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	c := &Client{
		base:    u,
		headers: make(http.Header),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(HTTPConfig{Logger: c.log})
	}
	return c, nil
}

// BaseURL returns the base URL the client was built with.
func (c *Client) BaseURL() string { return c.base.String() }

// HTTPClient returns the transport, for OAuth2 token exchanges that must share
// retry and timeout settings.
func (c *Client) HTTPClient() *http.Client { return c.http }

// With returns a copy of c with opts applied on top; c is unchanged. Vendors
// use it to add auth once a token source has been built from the transport.
func (c *Client) With(opts ...Option) *Client {
	cp := *c
	cp.headers = c.headers.Clone()
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// ──────────────────────────────────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────────────────────────────────

// Request describes one vendor call. Path is relative to the base URL unless
// it is an absolute http(s) URL, as returned in next-page links.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded. Mutually exclusive with Form.
	Body   any
	Form   url.Values
	Header http.Header
}

// Response is the raw outcome of a call. It is returned with *StatusError too.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends r and decodes a JSON response body into out when out is non-nil.
// Non-2xx responses return *StatusError alongside the Response.
func (c *Client) Do(ctx context.Context, r Request, out any) (*Response, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	target, err := c.resolve(r.Path, r.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.Body != nil && r.Form != nil:
		return nil, errors.New("rest.Do: Body and Form are mutually exclusive")
	case r.Body != nil:
		raw, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("rest.Do: marshal body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	sendCtx := ctx
	if nonIdempotent(r.Method) {
		sendCtx = singleShot(ctx)
	}
	req, err := http.NewRequestWithContext(sendCtx, r.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("rest.Do: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	for k, vs := range r.Header {
		req.Header[http.CanonicalHeaderKey(k)] = vs
	}
	if c.auth != nil {
		if err := c.auth.Authenticate(ctx, req); err != nil {
			return nil, fmt.Errorf("rest.Do: authenticate: %w", err)
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rest.Do: rate limit: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest.Do: %s %s: %w", r.Method, redact(target), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("rest.Do: read response: %w", err)
	}
	if len(raw) > MaxResponseBytes {
		return nil, fmt.Errorf("rest.Do: response from %s exceeds %d bytes", redact(target), MaxResponseBytes)
	}

	c.log.DebugContext(ctx, "vendor request",
		"method", r.Method,
		"url", redact(target),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	res := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, &StatusError{
			Method:     r.Method,
			URL:        redact(target),
			StatusCode: resp.StatusCode,
			Body:       raw,
		}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return res, fmt.Errorf("rest.Do: decode %s response: %w", redact(target), err)
		}
	}
	return res, nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

// ──────────────────────────────────────────────────────────────────────────────
// URL handling
// ──────────────────────────────────────────────────────────────────────────────

// Path joins escaped path segments: Path("issue", "A/B") == "/issue/A%2FB".
func Path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		abs, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("rest.Do: parse url: %w", err)
		}
		u = abs
	} else {
		ref, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("rest.Do: parse path %q: %w", path, err)
		}
		joined := *c.base
		rel := strings.TrimLeft(ref.Path, "/")
		relRaw := strings.TrimLeft(ref.EscapedPath(), "/")
		if rel != "" {
			joined.Path = c.base.Path + "/" + rel
			joined.RawPath = c.base.EscapedPath() + "/" + relRaw
		}
		joined.RawQuery = ref.RawQuery
		u = &joined
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// redact drops the query string and userinfo so URLs are safe to log.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
