// Package sse writes Server-Sent Events to an http.ResponseWriter.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultKeepAliveInterval is short enough for common proxies and edge runtimes
const DefaultKeepAliveInterval = 10 * time.Second

// ErrStreamingUnsupported is returned when the writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Stream serializes event and keep-alive writes to one response
type Stream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewStream sets the event-stream headers and sends them
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, flusher: flusher}, nil
}

// Send writes one data event holding the JSON encoding of payload
func (s *Stream) Send(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.write(fmt.Sprintf("data: %s\n\n", data))
}

// WriteKeepAlive writes an SSE comment line, which clients ignore
func (s *Stream) WriteKeepAlive() error {
	return s.write(": keepalive\n\n")
}

func (s *Stream) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("stream closed")
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		s.closed = true
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive pings the stream every interval until the returned stop func is
// called or a write fails. stop waits for the pinger to exit, so no write
// happens after it returns.
func (s *Stream) KeepAlive(interval time.Duration, logger *slog.Logger) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.WriteKeepAlive(); err != nil {
					logger.Debug("keep-alive write failed, stopping", "error", err)
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}
