// Package gateway wraps outbound calls to the practice-management API with
// rate limiting, retry with exponential backoff, timeout enforcement, and
// pagination. Transport failures never escape as errors: every call returns
// a normalized Invocation the dispatcher can reason about.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/invoke"
)

// Config holds the gateway tuning knobs. Zero values fall back to the
// upstream's documented defaults.
type Config struct {
	BaseURL     string
	PerMinute   int           // rate limit window, default 300
	PerHour     int           // rate limit window, default 10000
	Timeout     time.Duration // per-call wall clock, default 30s
	MaxRetries  int           // retry budget for transient failures, default 3
	BackoffBase time.Duration // first backoff delay, default 1s
	BackoffCap  time.Duration // backoff ceiling, default 30s
	MaxWait     time.Duration // longest a call may block on the limiter, default 60s
	PerPage     int           // pagination page size, default 50 (upstream max 200)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PerMinute == 0 {
		out.PerMinute = 300
	}
	if out.PerHour == 0 {
		out.PerHour = 10000
	}
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.MaxRetries < 0 {
		// Negative means no retries: a single attempt.
		out.MaxRetries = 0
	}
	if out.BackoffBase == 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffCap == 0 {
		out.BackoffCap = 30 * time.Second
	}
	if out.MaxWait == 0 {
		out.MaxWait = time.Minute
	}
	if out.PerPage == 0 {
		out.PerPage = 50
	}
	if out.PerPage > 200 {
		out.PerPage = 200
	}
	return out
}

// Client is the rate-limited API gateway. Safe for concurrent use; the
// limiter is the only shared mutable state.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *Limiter
	tokens  auth.Provider
	logger  *log.Logger
}

// New creates a gateway client over the given credential provider.
func New(cfg Config, tokens auth.Provider) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: NewLimiter(cfg.PerMinute, cfg.PerHour, cfg.MaxWait),
		tokens:  tokens,
		logger:  log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
	}
}

// Limiter exposes the shared limiter, for the status surface.
func (c *Client) Limiter() *Limiter { return c.limiter }

// PerPage returns the configured pagination page size.
func (c *Client) PerPage() int { return c.cfg.PerPage }

// Call makes one logical API call, retrying transient failures (429, 5xx,
// timeouts) with exponential backoff plus jitter until the retry budget is
// exhausted. Non-transient upstream errors surface immediately.
func (c *Client) Call(ctx context.Context, method, path string, params url.Values, body interface{}) *invoke.Invocation {
	start := time.Now()

	tok, err := c.tokens.ActiveToken()
	if err != nil {
		return invoke.Fail(authErrKind(err), err.Error(), time.Since(start))
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return invoke.Fail(invoke.ErrUnknown, fmt.Sprintf("encoding request body: %v", err), time.Since(start))
		}
	}

	var last *invoke.Invocation
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(attempt-1, last)); err != nil {
				break
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return invoke.Fail(invoke.ErrTransient,
				fmt.Sprintf("rate limiter wait aborted: %v", err), time.Since(start))
		}

		inv := c.once(ctx, method, path, params, payload, tok)
		inv.Retries = attempt
		inv.Elapsed = time.Since(start)
		if inv.Success || !inv.ErrKind.Transient() {
			return inv
		}
		c.logger.Printf("⚠️ %s %s attempt %d failed (%s), retrying", method, path, attempt+1, inv.ErrKind)
		last = inv
	}

	last.Elapsed = time.Since(start)
	return last
}

// once performs a single HTTP round trip under the per-call timeout.
func (c *Client) once(ctx context.Context, method, path string, params url.Values, payload []byte, tok *auth.Token) *invoke.Invocation {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(cctx, method, u, rdr)
	if err != nil {
		return invoke.Fail(invoke.ErrUnknown, fmt.Sprintf("building request: %v", err), 0)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-VERSION", "4.0.9")
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient per policy.
		return invoke.Fail(invoke.ErrTransient, auth.Redact(err.Error(), tok), 0)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return invoke.Fail(invoke.ErrTransient, fmt.Sprintf("reading response: %v", err), 0)
	}

	inv := &invoke.Invocation{StatusCode: resp.StatusCode, Raw: string(raw)}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		inv.Success = true
		if len(raw) > 0 {
			var decoded interface{}
			if err := json.Unmarshal(raw, &decoded); err == nil {
				inv.Payload = decoded
			}
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		inv.ErrKind = invoke.ErrRateLimited
		inv.ErrDetail = retryDetail(resp)
	case resp.StatusCode == http.StatusNotFound:
		inv.ErrKind = invoke.ErrNotFound
		inv.ErrDetail = upstreamDetail(raw, tok)
	case resp.StatusCode == http.StatusUnauthorized:
		inv.ErrKind = invoke.ErrAuthExpired
		inv.ErrDetail = "upstream rejected the access token"
	case resp.StatusCode >= 500:
		inv.ErrKind = invoke.ErrTransient
		inv.ErrDetail = upstreamDetail(raw, tok)
	case resp.StatusCode >= 400:
		inv.ErrKind = invoke.ErrValidation
		inv.ErrDetail = upstreamDetail(raw, tok)
	default:
		inv.ErrKind = invoke.ErrUnknown
		inv.ErrDetail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return inv
}

// backoff computes the delay before retry attempt n. When the upstream sent
// a Retry-After it wins; otherwise base*2^n capped, plus up to 25% jitter.
func (c *Client) backoff(n int, last *invoke.Invocation) time.Duration {
	if last != nil && last.ErrKind == invoke.ErrRateLimited {
		if secs, err := strconv.Atoi(last.ErrDetail); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	d := c.cfg.BackoffBase << uint(n)
	if d > c.cfg.BackoffCap {
		d = c.cfg.BackoffCap
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// retryDetail keeps the Retry-After value so backoff can honor it.
func retryDetail(resp *http.Response) string {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		return ra
	}
	return "rate limited by upstream"
}

// upstreamDetail extracts the upstream's error message when the body is the
// usual {"error": {"message": ...}} envelope, falling back to the raw body.
// The token value is redacted either way.
func upstreamDetail(raw []byte, tok *auth.Token) string {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return auth.Redact(envelope.Error.Message, tok)
	}
	detail := string(raw)
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return auth.Redact(detail, tok)
}

func authErrKind(err error) invoke.ErrorKind {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return invoke.ErrAuthExpired
	case errors.Is(err, auth.ErrMissing):
		return invoke.ErrAuthMissing
	default:
		return invoke.ErrUnknown
	}
}
