package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Writer frames server-sent events onto an HTTP response and flushes each
// one.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

// Start writes the event-stream headers and a 200 status.
func Start(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	sw := &Writer{w: w, flusher: flusher}
	sw.flush()
	return sw
}

// Send writes one "event: <name>" frame with data encoded as JSON. After the
// first write error every call returns that error.
func (s *Writer) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.err = err
		return err
	}
	s.flush()
	return nil
}

// Comment writes a ": <text>" line, used as a keep-alive.
func (s *Writer) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		s.err = err
		return err
	}
	s.flush()
	return nil
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
