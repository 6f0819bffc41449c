package orch

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotifierSubscriberPanicIsContained(t *testing.T) {
	t.Parallel()

	n := NewNotifier(slog.Default())
	t.Cleanup(n.Close)

	var delivered atomic.Int64
	n.Subscribe(func(Event) { panic("bad subscriber") })
	n.Subscribe(func(Event) { delivered.Add(1) })

	n.Publish(Event{Kind: EventWorkerCreated, WorkerID: "wk_1"})

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("second subscriber never reached after first panicked")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifierPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	n := NewNotifier(slog.Default())
	t.Cleanup(n.Close)

	block := make(chan struct{})
	n.Subscribe(func(Event) { <-block })

	// Overfill the queue while the forwarding goroutine is stuck; Publish
	// must drop rather than block the orchestration path.
	done := make(chan struct{})
	go func() {
		for i := 0; i < notifierQueueSize*2; i++ {
			n.Publish(Event{Kind: EventWorkerStatus, WorkerID: "wk_flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a stuck subscriber")
	}
	close(block)
}
