package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-logr/logr"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// pingFrame has empty data so decoders drop it
const pingFrame = "event:ping\ndata:\n\n"

// Emitter writes framed events to a single open response. Every Send is its
// own frame and is flushed immediately. Safe for concurrent use.
type Emitter struct {
	w       io.Writer
	flusher http.Flusher
	log     logr.Logger

	mu    sync.Mutex
	err   error
	ended bool
}

// NewEmitter opens an event stream on w: it sets the stream headers, commits a
// 200 status and flushes so the client sees the response immediately.
func NewEmitter(w http.ResponseWriter, log logr.Logger) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Emitter{w: w, flusher: flusher, log: log}, nil
}

// Send encodes payload under event and flushes it. After End, or after a
// write has failed, Send does nothing.
func (e *Emitter) Send(event string, payload any) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		e.log.Error(err, "dropping frame", "event", event)
		return
	}
	e.write(event, frame)
}

// Ping writes a keep-alive frame
func (e *Emitter) Ping() {
	e.write("ping", []byte(pingFrame))
}

func (e *Emitter) write(event string, frame []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended || e.err != nil {
		return
	}
	if _, err := e.w.Write(frame); err != nil {
		e.err = fmt.Errorf("failed to write %s frame: %w", event, err)
		e.log.V(1).Info("stream write failed", "event", event, "error", err.Error())
		return
	}
	e.flusher.Flush()
}

// End finalizes the stream. Further calls are no-ops.
func (e *Emitter) End() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return
	}
	e.ended = true
	if e.err == nil {
		e.flusher.Flush()
	}
}

// Err reports the first write failure, if any
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
