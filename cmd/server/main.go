package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/config"
	"github.com/tivvis/nlagent/internal/dispatch"
	"github.com/tivvis/nlagent/internal/executor"
	"github.com/tivvis/nlagent/internal/gateway"
	"github.com/tivvis/nlagent/internal/history"
	"github.com/tivvis/nlagent/internal/metrics"
	"github.com/tivvis/nlagent/internal/resolver"
	"github.com/tivvis/nlagent/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tokens, err := auth.NewManager(cfg.Auth.DBPath, cfg.Auth.Keyring)
	if err != nil {
		log.Fatalf("Failed to initialize auth manager: %v", err)
	}
	defer tokens.Close()

	reg := catalog.NewRegistry()
	log.Printf("📦 Operation catalog loaded: %d operations", reg.Count())

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
	for _, svc := range ex.Services() {
		log.Printf("🔧 Local CLI available: %s", svc)
	}

	m := metrics.New()

	res := resolver.New(reg, cfg.Resolver.Threshold)
	disp := dispatch.New(reg, gw, ex, tokens, dispatch.Config{
		MaxPages:   cfg.Gateway.MaxPages,
		MaxResults: cfg.Gateway.MaxResults,
	}, dispatch.WithMetrics(m))

	var hist *history.Store
	if cfg.History.DBPath != "" {
		hist, err = history.Open(cfg.History.DBPath)
		if err != nil {
			log.Printf("⚠️ Query history disabled: %v", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	srv := server.New(reg, res, disp, tokens, ex, hist, m)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 nlagent API starting on port %s", cfg.Server.Port)
	log.Printf("📊 Health check: http://localhost:%s/health", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}
