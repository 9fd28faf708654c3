package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/storyloom/lorebase/internal/config"
	"github.com/storyloom/lorebase/internal/rpc"
	"github.com/storyloom/lorebase/internal/session"
	"github.com/storyloom/lorebase/internal/storage"
)

// StartStream starts the streaming listener on cfg.Server.StreamPort.
// Returns the actual address being listened on (useful for testing with
// port 0). The listener shuts down gracefully when ctx is cancelled.
func StartStream(ctx context.Context, cfg *config.Config, sessions *session.Manager, dispatcher *rpc.Dispatcher, store storage.DocumentStore) (string, error) {
	origins := []string{
		fmt.Sprintf("localhost:%d", cfg.Server.StreamPort),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.StreamPort),
	}
	handler := NewStreamHandler(sessions, dispatcher, store, origins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.StreamPort)
	return serve(ctx, "stream", addr, securityHeadersMiddleware(handler.Mux()))
}

// StartREST starts the REST mutation listener on cfg.Server.StreamPort+1,
// wrapped with write-token auth, rate limiting, and security headers.
func StartREST(ctx context.Context, cfg *config.Config, store storage.DocumentStore) (string, error) {
	rateLimiter := NewRateLimiter(float64(cfg.Server.RateLimit), cfg.Server.RateBurst)

	var handler http.Handler = NewRESTHandlers(store).Mux()
	handler = RequireWriteToken(handler, cfg.Security.WriteToken)
	handler = RateLimitMiddleware(handler, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.RESTPort())
	return serve(ctx, "rest", addr, handler)
}

// serve binds addr, runs the server until ctx cancellation, and returns the
// bound address.
func serve(ctx context.Context, name, addr string, handler http.Handler) (string, error) {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[SERVER] %s listener error: %v", name, err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[SERVER] %s shutdown error: %v", name, err)
		}
	}()

	log.Printf("[SERVER] %s listening on %s", name, actualAddr)
	return actualAddr, nil
}
