// Package sse provides Server-Sent Events utilities for streaming chat
// responses.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event names emitted on the chat stream. Clients may ignore either channel:
// the text deltas reconstruct the full answer, the source events carry the
// citations.
const (
	EventSource    = "source"
	EventTextDelta = "text-delta"
	EventDone      = "done"
	EventError     = "error"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates an SSE writer and sets the streaming headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends a named event with a JSON payload.
func (w *Writer) WriteEvent(ctx context.Context, event string, payload any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	return w.writeSSEData(event, string(data))
}

// WriteError sends a terminal error event. Once streaming has started this
// is the only error channel left; the HTTP status is long committed.
func (w *Writer) WriteError(ctx context.Context, message string) error {
	return w.WriteEvent(ctx, EventError, map[string]string{"message": message})
}

// writeSSEData writes one event in SSE wire format. Multi-line payloads get
// a "data: " prefix per line so browsers reassemble them correctly.
func (w *Writer) writeSSEData(event, content string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}

	for _, line := range strings.Split(content, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	if _, err := w.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}
