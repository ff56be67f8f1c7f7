package streamhttp

import (
	"fmt"
	"io"
	"net/http"
)

// writeFlusher pairs a response writer with its flusher so SSE frames reach
// the wire as they are written.
type writeFlusher struct {
	io.Writer
	http.Flusher
}

// writeSSEEvent writes one Server-Sent Event frame. A non-empty id becomes
// the SSE event id so clients can spot gaps in a session's event sequence.
func writeSSEEvent(wf *writeFlusher, id string, payload []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", id); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

// sseHeaders stamps the streaming response headers before the first frame.
func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
