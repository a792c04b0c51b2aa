// Package dispatch routes resolved operations to the gateway or the local
// executor, walks pagination, and converts every outcome (including
// failures) into exactly one well-formed Response.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/executor"
	"github.com/tivvis/nlagent/internal/gateway"
	"github.com/tivvis/nlagent/internal/invoke"
	"github.com/tivvis/nlagent/internal/metrics"
	"github.com/tivvis/nlagent/internal/resolver"
	"github.com/tivvis/nlagent/internal/response"
)

// Config bounds pagination walks.
type Config struct {
	MaxPages   int // default 20
	MaxResults int // default 1000
}

// Options are per-request dispatch knobs from the inbound request.
type Options struct {
	IncludeRaw bool
	MaxResults int
}

// Dispatcher executes resolved operations. Stateless apart from its
// collaborators, so concurrent dispatches share nothing but the gateway's
// limiter.
type Dispatcher struct {
	catalog *catalog.Registry
	gw      *gateway.Client
	ex      *executor.Executor
	tokens  auth.Provider
	cfg     Config
	metrics *metrics.Metrics // nil when the process exports no registry
	logger  *log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics observes upstream calls and subprocess runs on the given set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New wires a dispatcher over its collaborators.
func New(reg *catalog.Registry, gw *gateway.Client, ex *executor.Executor, tokens auth.Provider, cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 20
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 1000
	}
	d := &Dispatcher{
		catalog: reg,
		gw:      gw,
		ex:      ex,
		tokens:  tokens,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one resolved operation end to end. It never returns an
// error: every code path terminates in exactly one Response.
func (d *Dispatcher) Dispatch(ctx context.Context, res resolver.Resolution, opts Options) response.Response {
	start := time.Now()
	trace := response.NewTrace()

	if !res.Matched {
		trace.Addf("none", "query did not clear the ambiguity threshold (best score %.2f)", res.Confidence)
		resp := response.Failed(res.Operation, invoke.ErrAmbiguousQuery,
			ambiguousMessage(res), res.Confidence, trace, time.Since(start))
		if data, ok := resp.Data.(map[string]interface{}); ok && len(res.Alternatives) > 0 {
			data["alternatives"] = res.Alternatives
		}
		return resp
	}

	def, ok := d.catalog.Get(res.Operation)
	if !ok {
		trace.Addf("none", "operation %q missing from catalog", res.Operation)
		return response.Failed(res.Operation, invoke.ErrUnknown,
			fmt.Sprintf("operation %q is not in the catalog", res.Operation),
			res.Confidence, trace, time.Since(start))
	}

	trace.Addf(
		fmt.Sprintf("%s(%s)", def.Name, formatParams(res.Params)),
		"resolved query to %s with confidence %.2f", def.Name, res.Confidence,
	)

	// Fail fast on missing required slots rather than calling downstream
	// with partial data.
	if len(res.MissingParams) > 0 {
		trace.Addf("none", "required parameters absent: %s", strings.Join(res.MissingParams, ", "))
		return response.Failed(def.Name, invoke.ErrMissingParam,
			fmt.Sprintf("cannot run %s: missing required parameters %s — include them in the query",
				def.Name, strings.Join(res.MissingParams, ", ")),
			res.Confidence, trace, time.Since(start))
	}

	switch def.Kind {
	case catalog.KindProvider:
		return d.authStatus(res, trace, start)
	case catalog.KindRemoteAPI:
		return d.remote(ctx, def, res, opts, trace, start)
	case catalog.KindLocalCLI:
		return d.local(ctx, def, res, trace, start)
	default:
		return response.Failed(def.Name, invoke.ErrUnknown,
			fmt.Sprintf("operation %s has unroutable kind %q", def.Name, def.Kind),
			res.Confidence, trace, time.Since(start))
	}
}

// authStatus answers from the credential provider without contacting the
// upstream.
func (d *Dispatcher) authStatus(res resolver.Resolution, trace *response.Trace, start time.Time) response.Response {
	trace.Add("checking credential provider for a live session", "auth-status()")

	tok, err := d.tokens.ActiveToken()
	if err != nil {
		kind := invoke.ErrAuthMissing
		msg := "no access token found — set " + auth.EnvToken + " or log in with the desktop client"
		if errors.Is(err, auth.ErrExpired) {
			kind = invoke.ErrAuthExpired
			msg = "the stored session is expired — log in again to refresh it"
		}
		trace.Add("provider returned no usable token", "none")
		return response.Failed(res.Operation, kind, msg, res.Confidence, trace, time.Since(start))
	}

	data := map[string]interface{}{
		"authenticated": true,
		"source":        string(tok.Source),
	}
	if tok.Owner != "" {
		data["owner"] = tok.Owner
	}
	if !tok.ExpiresAt.IsZero() {
		data["expires_at"] = tok.ExpiresAt
	}
	trace.Addf("none", "found a live token from %s", tok.Source)

	msg := "Authentication is valid"
	if tok.Owner != "" {
		msg = "Authenticated as " + tok.Owner
	}
	return response.Assemble(response.Outcome{
		Operation:  res.Operation,
		Confidence: res.Confidence,
		Message:    msg,
		Data:       data,
	}, trace, time.Since(start))
}

func ambiguousMessage(res resolver.Resolution) string {
	if len(res.Alternatives) == 0 {
		return "could not map the query to any supported operation — try naming an action like 'find contacts' or 'log time'"
	}
	names := make([]string, 0, len(res.Alternatives))
	for _, alt := range res.Alternatives {
		names = append(names, alt.Operation)
	}
	return fmt.Sprintf("the query is ambiguous — closest operations were %s; rephrase with a clearer action",
		strings.Join(names, ", "))
}

// formatParams renders parameters for the trace with stable key order.
func formatParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ", ")
}
