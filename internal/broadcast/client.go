package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Client talks to the realtime gateway's HTTP API.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the dialer, e.g. with an in-memory listener in tests.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

// BearerToken returns a HeaderProvider sending token as a bearer credential.
func BearerToken(token string) HeaderProvider {
	return func() map[string]string {
		if strings.TrimSpace(token) == "" {
			return nil
		}
		return map[string]string{"Authorization": "Bearer " + token}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit posts one envelope to /emit, retrying gateway 5xx answers.
func (c *Client) Emit(ctx context.Context, env Envelope) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/emit", env, nil, true)
}

// GatewayHealth is the gateway's /healthz answer.
type GatewayHealth struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (c *Client) Health(ctx context.Context) (*GatewayHealth, error) {
	var h GatewayHealth
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, &h, false); err != nil {
		return nil, err
	}
	return &h, nil
}

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error: status=%d body=%s", e.Status, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *GatewayError) Temporary() bool {
	switch e.Status {
	case fasthttp.StatusTooManyRequests, fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

const (
	maxErrorBody = 512
	backoffBase  = 100 * time.Millisecond
	backoffSteps = 6
)

// doJSON sends in as JSON and decodes a 2xx body into out. With retry set,
// transport errors and temporary gateway errors are retried with backoff
// up to retryMax attempts.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		payload = raw
	}
	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}
	for attempt := 1; ; attempt++ {
		body, err := c.once(ctx, method, path, payload)
		if err == nil {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}
		var gw *GatewayError
		if attempt >= attempts || (errors.As(err, &gw) && !gw.Temporary()) {
			return err
		}
		if werr := waitBackoff(ctx, attempt); werr != nil {
			return err
		}
	}
}

// once performs a single request and returns the response body on 2xx.
func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				continue
			}
			req.Header.Set(k, v)
		}
	}
	if payload != nil {
		req.SetBody(payload)
	}

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		body := resp.Body()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &GatewayError{Status: code, Body: string(body)}
	}
	return append([]byte(nil), resp.Body()...), nil
}

// deadline is the earlier of the context deadline and the client timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.defaultTimeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

// backoffDuration doubles from backoffBase and stops growing after backoffSteps.
func backoffDuration(attempt int) time.Duration {
	attempt = max(1, min(attempt, backoffSteps))
	return backoffBase << (attempt - 1)
}

func waitBackoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(backoffDuration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
