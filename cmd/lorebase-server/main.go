// cmd/lorebase-server is the network entry point for Lorebase. It starts two
// listeners: the streaming JSON-RPC endpoint (websocket sessions plus a
// synchronous /rpc route) and the REST mutation surface on the next port.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/storyloom/lorebase/internal/backup"
	"github.com/storyloom/lorebase/internal/config"
	"github.com/storyloom/lorebase/internal/gateway"
	"github.com/storyloom/lorebase/internal/rpc"
	"github.com/storyloom/lorebase/internal/server"
	"github.com/storyloom/lorebase/internal/session"
	"github.com/storyloom/lorebase/internal/shaper"
	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/internal/storage/postgres"
	"github.com/storyloom/lorebase/internal/storage/sqlite"
)

func main() {
	log.SetPrefix("lorebase-server: ")
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

	// All protocol traffic goes through the gateway's slot pool and breaker.
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

	sessions := session.NewManager(dispatcher.HandleRequest, session.Config{
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		MissedPingLimit:   cfg.Session.MissedPingLimit,
		DrainGrace:        cfg.Session.DrainGrace,
		WorkersPerSession: cfg.Session.WorkersPerSession,
		MaxSessions:       cfg.Session.MaxSessions,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Backup.Enabled && cfg.Storage.Engine == "sqlite" {
		snapshots, err := backup.NewService(backup.Config{
			DBPath:   cfg.Storage.SQLitePath,
			Dir:      cfg.Backup.Dir,
			Interval: cfg.Backup.Interval,
			Keep:     cfg.Backup.Keep,
			Verify:   cfg.Backup.Verify,
		})
		if err != nil {
			log.Fatalf("failed to start backup service: %v", err)
		}
		go snapshots.Run(ctx)
	}

	streamAddr, err := server.StartStream(ctx, cfg, sessions, dispatcher, gw)
	if err != nil {
		log.Fatalf("failed to start streaming listener: %v", err)
	}
	restAddr, err := server.StartREST(ctx, cfg, gw)
	if err != nil {
		log.Fatalf("failed to start REST listener: %v", err)
	}
	log.Printf("streaming on %s, REST on %s (engine: %s)", streamAddr, restAddr, cfg.Storage.Engine)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down gracefully...")
	sessions.DrainAll()
	cancel()
	time.Sleep(1 * time.Second) // let in-flight connections close
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
