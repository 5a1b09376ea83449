package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// NewMockServer creates a test HTTP server with the given handlers. Keys are
// ServeMux patterns, so "POST /api/datasources/{id}/runs" works. Unmatched
// paths return 404.
func NewMockServer(handlers map[string]http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

// WithJSONResponse returns a handler that writes body as JSON.
func WithJSONResponse(statusCode int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}
}

// WithAPIError returns a handler that writes the backend error envelope.
func WithAPIError(statusCode int, code, message string) http.HandlerFunc {
	return WithJSONResponse(statusCode, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

// WithDelayedResponse adds latency before handler runs.
func WithDelayedResponse(delay time.Duration, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		handler(w, r)
	}
}

// WithEventStream returns a handler that streams evs as server-sent events
// and then ends the response.
func WithEventStream(evs ...any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sse := NewSSEWriter(w)
		if err := sse.Start(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = sse.WriteComment("run started")
		for _, ev := range evs {
			if err := sse.WriteEvent("message", ev); err != nil {
				return
			}
		}
		sse.Close()
	}
}

// Recorded is one request seen by a Recorder.
type Recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Recorder wraps handlers and keeps every request they receive.
type Recorder struct {
	mu       sync.Mutex
	requests []Recorded
}

// Wrap records the request and delegates to next.
func (rec *Recorder) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		rec.mu.Lock()
		rec.requests = append(rec.requests, Recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		rec.mu.Unlock()
		next(w, r)
	}
}

// Requests returns a copy of the recorded requests.
func (rec *Recorder) Requests() []Recorded {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Recorded, len(rec.requests))
	copy(out, rec.requests)
	return out
}

// Last returns the most recent request.
func (rec *Recorder) Last() (Recorded, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.requests) == 0 {
		return Recorded{}, false
	}
	return rec.requests[len(rec.requests)-1], true
}
