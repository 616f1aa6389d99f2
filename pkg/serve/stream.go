package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrStreamClosed is returned by writes after Close or after a failed write.
var ErrStreamClosed = errors.New("stream writer is closed")

// StreamWriter writes NDJSON records and flushes after each one.
type StreamWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher interface{ Flush() }
	closed  bool
}

// NewStreamWriter creates a new stream writer for NDJSON streaming
func NewStreamWriter(w io.Writer) *StreamWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	sw := &StreamWriter{enc: enc}
	if f, ok := w.(interface{ Flush() }); ok {
		sw.flusher = f
	}
	return sw
}

// Write encodes v as one line. A failed write closes the writer so later
// records for a departed client are dropped.
func (sw *StreamWriter) Write(v interface{}) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrStreamClosed
	}
	if err := sw.enc.Encode(v); err != nil {
		sw.closed = true
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Close closes the stream writer
func (sw *StreamWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
	return nil
}
