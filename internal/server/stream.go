// Package server provides the two HTTP listeners for Lorebase: the streaming
// protocol endpoint (websocket sessions plus a synchronous /rpc fallback) and
// the REST mutation surface used by the population tooling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/storyloom/lorebase/internal/rpc"
	"github.com/storyloom/lorebase/internal/session"
	"github.com/storyloom/lorebase/internal/storage"
)

// maxRequestBytes bounds the /rpc request body.
const maxRequestBytes = 1 << 20

// writeTimeout is the per-frame websocket write deadline.
const writeTimeout = 10 * time.Second

// StreamHandler serves the streaming protocol endpoint. Each websocket
// connection gets its own session; commands submitted on the socket are
// answered in completion order on the same socket.
type StreamHandler struct {
	sessions   *session.Manager
	dispatcher *rpc.Dispatcher
	store      storage.DocumentStore
	origins    []string
}

// NewStreamHandler creates a StreamHandler. origins lists the host:port
// patterns accepted in the websocket Origin check.
func NewStreamHandler(sessions *session.Manager, dispatcher *rpc.Dispatcher, store storage.DocumentStore, origins []string) *StreamHandler {
	return &StreamHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		store:      store,
		origins:    origins,
	}
}

// Mux returns the route table for the streaming listener.
func (h *StreamHandler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", h.handleStream)
	mux.HandleFunc("POST /rpc", h.handleRPC)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	return mux
}

// handleStream upgrades to a websocket and binds it to a fresh session. The
// first frame on the socket announces the session id; subsequent frames are
// responses and keep-alive pings.
func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		log.Printf("[STREAM] websocket upgrade failed: %v", err)
		return
	}

	sess, err := h.sessions.Open()
	if err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "session limit reached")
		return
	}

	go h.writePump(sess, conn)
	go h.readPump(sess, conn)
}

// writePump forwards session events to the socket. Event payloads are
// complete JSON frames already; they go on the wire untouched. The events
// channel closing means the session reached Closed, so the socket follows.
func (h *StreamHandler) writePump(sess *session.Session, conn *websocket.Conn) {
	for ev := range sess.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, ev.Payload)
		cancel()

		if err != nil {
			log.Printf("[STREAM] %s write failed: %v", sess.ID(), err)
			sess.Drain("socket write failed")
			// Keep consuming so the session can finish closing.
			for range sess.Events() {
			}
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
}

// readPump consumes client frames: keep-alive acks and JSON-RPC commands.
// A read error means the client went away, which drains the session.
func (h *StreamHandler) readPump(sess *session.Session, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			sess.Drain("client disconnected")
			return
		}

		var frame struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &frame) == nil && frame.Type == "ack" {
			sess.Ack()
			continue
		}

		// Submit blocks when the command queue is full; that backpressure
		// deliberately stalls further reads from this client.
		if err := sess.Submit(data); err != nil {
			log.Printf("[STREAM] %s rejected command: %v", sess.ID(), err)
			return
		}
	}
}

// handleRPC answers a single JSON-RPC request synchronously on the HTTP
// channel. An X-Session-ID header attributes the request to a live streaming
// session, which also counts as keep-alive activity for it.
func (h *StreamHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if id := r.Header.Get("X-Session-ID"); id != "" {
		sess, ok := h.sessions.Get(id)
		if !ok {
			respondError(w, http.StatusNotFound, "unknown session", nil)
			return
		}
		sess.Ack()
	}

	response, err := h.dispatcher.HandleRequest(r.Context(), body)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "request handling failed", err)
		return
	}
	if response == nil {
		// Notification: acknowledged, nothing to return.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(response)
}

// handleHealth reports liveness, store reachability, and the live session
// count. No auth required; used by monitoring.
func (h *StreamHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		if errors.Is(err, storage.ErrUnavailable) {
			log.Printf("[STREAM] health: store unavailable: %v", err)
		}
	}

	respondJSON(w, code, map[string]interface{}{
		"status":   status,
		"version":  rpc.ServerVersion,
		"sessions": h.sessions.Count(),
	})
}
