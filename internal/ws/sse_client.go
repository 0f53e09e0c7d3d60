package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger}
}

// Send emits a data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.write("data: %s\n\n", payload)
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write(": ping\n\n")
}

// Finish emits an end event and closes the stream.
func (c *SSEClient) Finish() {
	_ = c.write("event: end\ndata: {}\n\n")
	c.Close()
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *SSEClient) write(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.writer, format, args...); err != nil {
		c.closed = true
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}
