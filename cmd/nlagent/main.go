// nlagent is the one-shot command line front end: it resolves and executes
// a single natural-language query in process, without the HTTP server, and
// prints the response as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/config"
	"github.com/tivvis/nlagent/internal/dispatch"
	"github.com/tivvis/nlagent/internal/executor"
	"github.com/tivvis/nlagent/internal/gateway"
	"github.com/tivvis/nlagent/internal/history"
	"github.com/tivvis/nlagent/internal/resolver"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	includeRaw := flag.Bool("raw", false, "include the raw upstream payload in the output")
	maxResults := flag.Int("max-results", 0, "cap the number of records returned")
	timeoutSecs := flag.Int("timeout", 120, "overall timeout in seconds")
	showVersion := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "suppress log output")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nlagent v%s\n", version)
		return
	}

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, `Usage: nlagent [flags] "<query>"

Examples:
  nlagent "Check my authentication status"
  nlagent "Create a contact named John Doe with email john@example.com"
  nlagent -max-results 10 "Find all matters for Acme Corp"`)
		os.Exit(1)
	}

	if *quiet {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tokens, err := auth.NewManager(cfg.Auth.DBPath, cfg.Auth.Keyring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize auth manager: %v\n", err)
		os.Exit(1)
	}
	defer tokens.Close()

	reg := catalog.NewRegistry()
	gw := gateway.New(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		PerMinute:  cfg.Gateway.PerMinute,
		PerHour:    cfg.Gateway.PerHour,
		Timeout:    cfg.GatewayTimeout(),
		MaxRetries: cfg.Gateway.MaxRetries,
		PerPage:    cfg.Gateway.PerPage,
	}, tokens)
	ex := executor.New(executor.Config{
		Roots: map[catalog.Service]string{
			catalog.ServicePrimary:   cfg.Executor.PrimaryRoot,
			catalog.ServiceSecondary: cfg.Executor.SecondaryRoot,
		},
		Timeout: cfg.ExecutorTimeout(),
	})

	res := resolver.New(reg, cfg.Resolver.Threshold)
	disp := dispatch.New(reg, gw, ex, tokens, dispatch.Config{
		MaxPages:   cfg.Gateway.MaxPages,
		MaxResults: cfg.Gateway.MaxResults,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSecs)*time.Second)
	defer cancel()

	resolution := res.Resolve(query, nil)
	resp := disp.Dispatch(ctx, resolution, dispatch.Options{
		IncludeRaw: *includeRaw,
		MaxResults: *maxResults,
	})

	if cfg.History.DBPath != "" {
		if hist, err := history.Open(cfg.History.DBPath); err == nil {
			_, _ = hist.Add(ctx, history.Record{
				Query:         query,
				Operation:     resp.OperationType,
				Success:       resp.Success,
				Confidence:    resp.ConfidenceScore,
				ExecutionTime: resp.ExecutionTime,
			})
			hist.Close()
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode response: %v\n", err)
		os.Exit(1)
	}

	if !resp.Success {
		os.Exit(1)
	}
}
