// cmd/lorebase-mcp is the stdio entry point for Lorebase. It serves
// line-delimited JSON-RPC 2.0 (the MCP framing) on stdin/stdout against the
// same dispatcher the network server uses.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/storyloom/lorebase/internal/config"
	"github.com/storyloom/lorebase/internal/gateway"
	"github.com/storyloom/lorebase/internal/rpc"
	"github.com/storyloom/lorebase/internal/shaper"
	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/internal/storage/postgres"
	"github.com/storyloom/lorebase/internal/storage/sqlite"
)

func main() {
	// Redirect the default logger to stderr so that incidental log calls
	// from imported packages never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("lorebase-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	gw := gateway.New(store, gateway.Config{
		Slots:          cfg.Gateway.Slots,
		AcquireTimeout: cfg.Gateway.AcquireTimeout,
		BreakerMaxFail: cfg.Gateway.BreakerMaxFail,
		BreakerCooloff: cfg.Gateway.BreakerCooloff,
	})

	sh, err := newShaper(cfg)
	if err != nil {
		log.Fatalf("failed to build response shaper: %v", err)
	}

	dispatcher := rpc.NewDispatcher(gw, sh, cfg.Security.WriteToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	transport := rpc.NewStdioTransport(dispatcher, os.Stdin, os.Stdout)

	log.Println("ready — serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		// Context cancellation lands here too; informational only.
		log.Printf("transport stopped: %v", err)
	}
}

// openStore builds the configured document store backend.
func openStore(cfg *config.Config) (storage.DocumentStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.New(cfg.Storage.PostgresDSN)
	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create data directory %q: %w", dir, err)
			}
		}
		return sqlite.New(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// newShaper builds the response shaper with the configured token estimator.
func newShaper(cfg *config.Config) (*shaper.Shaper, error) {
	switch cfg.Budget.Estimator {
	case "tiktoken":
		est, err := shaper.NewTiktokenEstimator(cfg.Budget.Encoding)
		if err != nil {
			return nil, err
		}
		return shaper.New(est, cfg.Budget.TokenBudget), nil
	default:
		return shaper.New(shaper.HeuristicEstimator{}, cfg.Budget.TokenBudget), nil
	}
}
