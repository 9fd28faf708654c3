// Package rpc – transport.go provides the StdioTransport that serves
// line-delimited JSON-RPC 2.0 over stdin/stdout, the framing MCP clients
// speak.
//
// Protocol rules (must be followed exactly):
//   - Each request arrives as a single newline-terminated line on stdin.
//   - Each response is written as a single newline-terminated line to stdout.
//   - ALL diagnostic output MUST go to stderr only. Stray bytes on stdout
//     corrupt the protocol framing.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport reads line-delimited JSON-RPC 2.0 requests from an io.Reader
// and writes responses to an io.Writer. Logging goes through a dedicated
// stderr logger so that stdout stays clean for framing.
type StdioTransport struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *log.Logger
}

// NewStdioTransport constructs a StdioTransport that reads from in and
// writes to out.
//
// Usage with real stdio:
//
//	t := rpc.NewStdioTransport(d, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(d *Dispatcher, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		dispatcher: d,
		in:         in,
		out:        out,
		logger:     log.New(os.Stderr, "lorebase-mcp: ", log.LstdFlags),
	}
}

// Serve processes requests until stdin is closed or ctx is cancelled. Each
// request is handled synchronously in arrival order; stdio clients frame one
// request per line and wait for the matching response line.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Large chapter payloads can push requests past the default buffer.
	const maxBuf = 4 * 1024 * 1024
	buf := make([]byte, maxBuf)
	scanner.Buffer(buf, maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled – shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed – shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.dispatcher.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Printf("handler error: %v", err)
			resp = t.internalErrorResponse(line, err)
		}
		if resp == nil {
			// Notification: no response frame.
			continue
		}

		if err := t.writeResponse(resp); err != nil {
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// writeResponse writes one response line with its framing newline.
func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// internalErrorResponse builds a best-effort error response when the
// dispatcher itself fails, recovering the request id when possible so the
// client can correlate it.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
