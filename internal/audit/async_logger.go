package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AsyncLogger buffers events in a ring and writes them from a background
// goroutine. When the ring is full the oldest event is dropped.
type AsyncLogger struct {
	writer Writer

	// Ring buffer
	buffer []interface{}
	size   int
	head   int
	tail   int
	count  int
	mu     sync.Mutex

	// Serializes writer access between the background loop and Flush
	writeMu sync.Mutex

	dropped uint64
	failed  uint64

	// Background writer
	flushCh   chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	interval  time.Duration
}

// NewAsyncLogger starts an async logger on writer
func NewAsyncLogger(writer Writer, cfg Config) *AsyncLogger {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1000
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	l := &AsyncLogger{
		writer:    writer,
		buffer:    make([]interface{}, size),
		size:      size,
		flushCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		interval:  interval,
	}

	go l.run()

	return l
}

// LogDecision fills in common fields and queues a copy of the event. The
// caller may reuse the event and its resource map once this returns.
func (l *AsyncLogger) LogDecision(ctx context.Context, event *DecisionEvent) {
	if event == nil {
		return
	}
	event = event.snapshot()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.EventType == "" {
		event.EventType = EventTypeDecision
	}
	if event.RequestID == "" {
		event.RequestID = RequestID(ctx)
	}

	l.enqueue(event)
}

// enqueue adds an event to the ring buffer (non-blocking)
func (l *AsyncLogger) enqueue(event interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size
	if l.count == l.size {
		l.head = (l.head + 1) % l.size
		atomic.AddUint64(&l.dropped, 1)
	} else {
		l.count++
	}

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

func (l *AsyncLogger) run() {
	defer close(l.stoppedCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush writes all buffered events and returns the last write error
func (l *AsyncLogger) Flush() error {
	return l.flush()
}

func (l *AsyncLogger) flush() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	events := l.drain()
	l.mu.Unlock()

	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			atomic.AddUint64(&l.failed, 1)
			lastErr = err
		}
	}

	return lastErr
}

// drain copies events out of the ring and empties it. Caller holds mu.
func (l *AsyncLogger) drain() []interface{} {
	if l.count == 0 {
		return nil
	}

	events := make([]interface{}, 0, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.head + i) % l.size
		events = append(events, l.buffer[idx])
		l.buffer[idx] = nil
	}
	l.head = l.tail
	l.count = 0

	return events
}

// Dropped returns the number of events lost to ring overflow
func (l *AsyncLogger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Failed returns the number of events the writer rejected
func (l *AsyncLogger) Failed() uint64 {
	return atomic.LoadUint64(&l.failed)
}

// Close stops the background goroutine after a final flush and closes the writer
func (l *AsyncLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.doneCh)
		<-l.stoppedCh
		err = l.writer.Close()
	})
	return err
}
