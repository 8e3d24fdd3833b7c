package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriterQueue_RetriesFailedWrite(t *testing.T) {
	w := NewWriterQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	var calls atomic.Int32
	done := make(chan struct{})
	w.Enqueue("flaky", func(context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("locked")
		}
		close(done)

		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("write was not retried, calls=%d", calls.Load())
	}
}

func TestWriterQueue_DrainsPendingOnStop(t *testing.T) {
	w := NewWriterQueue(nil, 8)
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Int32
	block := make(chan struct{})
	w.Enqueue("blocker", func(context.Context) error {
		<-block

		return nil
	})
	for i := 0; i < 3; i++ {
		w.Enqueue("pending", func(context.Context) error {
			ran.Add(1)

			return nil
		})
	}

	w.Start(ctx)
	cancel()
	close(block)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not stop")
	}
	if got := ran.Load(); got != 3 {
		t.Fatalf("expected pending writes to drain, ran %d", got)
	}
}
