package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// sseWriter relays frames to the caller as server-sent events. Each frame goes out as
// one data line, unchanged apart from removing line breaks.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the event stream headers and commits a 200 response
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("ResponseWriter does not support http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send implements orchestrator.EventSink
func (s *sseWriter) Send(frame json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes.ContainsAny(frame, "\r\n") {
		var compact bytes.Buffer
		if err := json.Compact(&compact, frame); err != nil {
			return fmt.Errorf("compact frame: %w", err)
		}
		frame = compact.Bytes()
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", frame); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
