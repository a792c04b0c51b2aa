// Package executor runs the two whitelisted local CLI tools as subprocesses.
// Tools are addressed by logical name only; arguments travel as an explicit
// vector, never through a shell, and every run is bounded by a wall-clock
// timeout after which the process is killed.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/invoke"
)

// Config maps logical service names to their executable roots.
type Config struct {
	Roots   map[catalog.Service]string
	Timeout time.Duration // default 60s
}

// Executor invokes whitelisted CLI tools. Each run is isolated; the executor
// itself holds no mutable state and is safe for concurrent use.
type Executor struct {
	roots   map[catalog.Service]string
	timeout time.Duration
	logger  *log.Logger
}

// New creates an executor over the configured allow-list.
func New(cfg Config) *Executor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	roots := make(map[catalog.Service]string, len(cfg.Roots))
	for svc, root := range cfg.Roots {
		roots[svc] = root
	}
	return &Executor{
		roots:   roots,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Available reports whether the service resolves to an executable on this
// host, for the status surface.
func (e *Executor) Available(svc catalog.Service) bool {
	root, ok := e.roots[svc]
	if !ok {
		return false
	}
	_, err := exec.LookPath(root)
	return err == nil
}

// Services lists the configured logical service names.
func (e *Executor) Services() []catalog.Service {
	out := make([]catalog.Service, 0, len(e.roots))
	for svc := range e.roots {
		out = append(out, svc)
	}
	return out
}

// Run executes one command against a whitelisted service. The optional input
// payload is serialized to JSON and passed on stdin. Output is captured;
// stdout that looks like JSON is parsed into the invocation payload.
func (e *Executor) Run(ctx context.Context, svc catalog.Service, command string, args []string, input map[string]interface{}) *invoke.Invocation {
	start := time.Now()

	root, ok := e.roots[svc]
	if !ok {
		return invoke.Fail(invoke.ErrNotAllowed,
			fmt.Sprintf("service %q is not on the executor allow-list", svc), time.Since(start))
	}

	argv := make([]string, 0, len(args)+1)
	if command != "" {
		argv = append(argv, command)
	}
	argv = append(argv, args...)

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, root, argv...)
	cmd.Dir = filepath.Dir(root)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if input != nil {
		payload, err := json.Marshal(input)
		if err != nil {
			return invoke.Fail(invoke.ErrUnknown,
				fmt.Sprintf("encoding input payload: %v", err), time.Since(start))
		}
		cmd.Stdin = bytes.NewReader(payload)
	}

	e.logger.Printf("running %s %s", svc, strings.Join(argv, " "))
	err := cmd.Run()
	elapsed := time.Since(start)

	inv := &invoke.Invocation{
		Raw:     strings.TrimSpace(stdout.String()),
		Stderr:  strings.TrimSpace(stderr.String()),
		Elapsed: elapsed,
	}

	switch {
	case err != nil && cctx.Err() != nil:
		// The context killed the process: either our deadline fired or the
		// caller cancelled the whole request.
		inv.ErrKind = invoke.ErrSubprocTimeout
		inv.ExitCode = -1
		if errors.Is(cctx.Err(), context.Canceled) {
			inv.ErrDetail = "command cancelled by the caller"
		} else {
			inv.ErrDetail = fmt.Sprintf("command killed after %s", e.timeout)
		}
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			inv.ExitCode = exitErr.ExitCode()
			inv.ErrKind = invoke.ErrNonZeroExit
			inv.ErrDetail = inv.Stderr
			if inv.ErrDetail == "" {
				inv.ErrDetail = fmt.Sprintf("exit code %d", inv.ExitCode)
			}
		} else {
			inv.ExitCode = -1
			inv.ErrKind = invoke.ErrNotAllowed
			inv.ErrDetail = fmt.Sprintf("starting %s: %v", svc, err)
		}
	default:
		inv.Success = true
		inv.Payload = parseStdout(inv.Raw)
	}

	return inv
}

// parseStdout decodes stdout as JSON when it plausibly is JSON; otherwise
// the raw text stands alone.
func parseStdout(out string) interface{} {
	trimmed := strings.TrimSpace(out)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil
	}
	return decoded
}
