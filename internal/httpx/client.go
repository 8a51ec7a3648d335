// Package httpx wraps net/http.Client with the bounded-deadline, classified
// outcome pattern §5 and §9 require for every outbound cross-service call,
// generalizing the teacher gateway's httpClient construction in
// internal/service/gateway.go (pooled transport, explicit timeout) plus
// its trust-fabric header injection.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Deadlines per §5: 5s for primary-path coordination, 3s for best-effort
// fan-out. Both are fixed; the HTTP_CLIENT_TIMEOUT_MS setting that config
// loads is not applied to them.
const (
	PrimaryDeadline   = 5 * time.Second
	BestEffortDeadline = 3 * time.Second
)

// Client issues JSON requests to a collaborator service, tagging every
// outbound request with the shared service token when configured.
type Client struct {
	http         *http.Client
	serviceToken string
	limiter      *rate.Limiter
}

// New builds a Client with a pooled transport, mirroring the teacher's
// MaxIdleConnsPerHost/IdleConnTimeout tuning, with no outbound rate limit.
func New(serviceToken string) *Client {
	return NewWithRateLimit(serviceToken, rate.Inf, 0)
}

// NewWithRateLimit builds a Client that throttles outbound calls to qps
// requests per second with the given burst, generalizing the teacher's
// per-tenant RateLimitConfig to a per-collaborator outbound guard so a
// downstream incident cannot be amplified into a retry storm.
func NewWithRateLimit(serviceToken string, qps rate.Limit, burst int) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		serviceToken: serviceToken,
		limiter:      rate.NewLimiter(qps, burst),
	}
}

// Result is the outcome of an outbound JSON call.
type Result struct {
	StatusCode int
	Body       []byte
	Err        error
	Unreachable bool // deadline exceeded or connection-level failure
}

// DoJSON issues method to url with body marshaled as JSON (nil for none),
// bounded by deadline, and returns the raw response body plus classification.
func (c *Client) DoJSON(ctx context.Context, deadline time.Duration, method, url string, body interface{}) Result {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Err: fmt.Errorf("httpx: rate limit wait: %w", err), Unreachable: true}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Result{Err: fmt.Errorf("httpx: marshal request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{Err: fmt.Errorf("httpx: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("X-Service-Token", c.serviceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: err, Unreachable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Err: err}
	}
	return Result{StatusCode: resp.StatusCode, Body: raw}
}

// DecodeInto unmarshals a Result's body into v; a no-op if the result
// carries no body.
func DecodeInto(r Result, v interface{}) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}
