package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Writer writes audit events to a destination
type Writer interface {
	// Write writes an event
	Write(event interface{}) error

	// Close closes the writer
	Close() error
}

// streamWriter writes audit events to a stream as JSON lines
type streamWriter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStdoutWriter creates a writer for standard output
func NewStdoutWriter() Writer {
	return NewStreamWriter(os.Stdout)
}

// NewStderrWriter creates a writer for standard error
func NewStderrWriter() Writer {
	return NewStreamWriter(os.Stderr)
}

// NewStreamWriter creates a writer on any stream. The stream is not closed.
func NewStreamWriter(out io.Writer) Writer {
	return &streamWriter{
		encoder: json.NewEncoder(out),
	}
}

func (w *streamWriter) Write(event interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(event)
}

func (w *streamWriter) Close() error {
	return nil
}
