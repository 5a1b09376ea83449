package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter writes server-sent events to a response, the way the studio
// backend streams run events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSSEWriter wraps w. Call Start before writing events.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// Start writes the event-stream headers.
func (s *SSEWriter) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flush()
	s.started = true
	return nil
}

// WriteEvent writes data as JSON, preceded by an event: line when name is
// set. Strings and byte slices are written as they are.
func (s *SSEWriter) WriteEvent(name string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sse writer is closed")
	}

	var payload []byte
	switch v := data.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal sse data: %w", err)
		}
		payload = b
	}

	if name != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// WriteComment writes a keep-alive comment.
func (s *SSEWriter) WriteComment(comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sse writer is closed")
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Close rejects further writes.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
