package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileWriter writes audit events to a rotating JSON lines file
type fileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileWriter creates a new file writer with log rotation
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	w := &fileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}

	if err := w.Write(lifecycleEvent(EventTypeSystemStartup, "Decision audit started")); err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("write startup event: %w", err)
	}

	return w, nil
}

func (w *fileWriter) Write(event interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(event)
}

// Close writes a shutdown marker and closes the file
func (w *fileWriter) Close() error {
	_ = w.Write(lifecycleEvent(EventTypeSystemShutdown, "Decision audit stopped"))

	return w.logger.Close()
}

func lifecycleEvent(t EventType, message string) Event {
	return Event{
		Timestamp: time.Now(),
		EventType: t,
		EventID:   uuid.NewString(),
		Data: map[string]interface{}{
			"message": message,
		},
	}
}
