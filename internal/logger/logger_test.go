package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureSink struct {
	mu      sync.Mutex
	entries []RequestLog
}

func (c *captureSink) WriteBatch(_ context.Context, entries []RequestLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestLoggerFlushesToSink(t *testing.T) {
	l, err := New(context.Background(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	sink := &captureSink{}
	l.SetSink(sink)

	for i := 0; i < 5; i++ {
		l.Log(RequestLog{
			ID:        uuid.New(),
			Dialect:   "openai",
			Endpoint:  "/v1/chat/completions",
			Model:     "gpt-4",
			Status:    200,
			CreatedAt: time.Now(),
		})
	}

	// Close drains the channel and flushes the final batch.
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if got := sink.count(); got != 5 {
		t.Errorf("sink received %d entries, want 5", got)
	}
	if l.DroppedLogs() != 0 {
		t.Errorf("dropped = %d, want 0", l.DroppedLogs())
	}
}

func TestLoggerBatchSizeFlush(t *testing.T) {
	l, err := New(context.Background(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	sink := &captureSink{}
	l.SetSink(sink)

	for i := 0; i < batchSize; i++ {
		l.Log(RequestLog{ID: uuid.New(), Dialect: "anthropic", Status: 200})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < batchSize && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.count(); got != batchSize {
		t.Errorf("sink received %d entries, want %d", got, batchSize)
	}
	l.Close()
}

func TestLoggerNilContext(t *testing.T) {
	if _, err := New(nil, nil); err == nil { //nolint:staticcheck
		t.Error("nil context should be rejected")
	}
}
