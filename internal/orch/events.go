package orch

import (
	"log/slog"
	"sync"
	"time"
)

type EventKind string

const (
	EventWorkerCreated    EventKind = "worker_created"
	EventWorkerStatus     EventKind = "worker_status"
	EventWorkerTerminated EventKind = "worker_terminated"
	EventTaskCompleted    EventKind = "task_completed"
)

// Event is one lifecycle notification. Delivery is best-effort fan-out for
// UI/log subscribers; nothing in the orchestration path depends on it.
type Event struct {
	Kind       EventKind
	WorkerID   string
	WorkerName string
	// Status is a human-readable worker status for worker_status events.
	Status string
	// Result is set for task_completed events.
	Result *TaskResult
	At     time.Time
}

const notifierQueueSize = 256

// Notifier fans events out to subscribers from a single forwarding
// goroutine. Publishing never blocks: when the queue is full the event is
// dropped and counted.
type Notifier struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs []func(Event)

	queue   chan Event
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	dropped int64
}

func NewNotifier(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	n := &Notifier{
		log:   log,
		queue: make(chan Event, notifierQueueSize),
		done:  make(chan struct{}),
	}
	go n.forward()
	return n
}

func (n *Notifier) Subscribe(fn func(Event)) {
	if n == nil || fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *Notifier) Publish(ev Event) {
	if n == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case n.queue <- ev:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.log.Debug("notifier queue full, event dropped", "kind", ev.Kind, "worker_id", ev.WorkerID)
	}
}

func (n *Notifier) forward() {
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-n.done:
			// Drain what is already queued before stopping.
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	n.mu.RLock()
	subs := make([]func(Event), len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.log.Warn("event subscriber panicked", "kind", ev.Kind, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}

func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.closeMu.Lock()
	defer n.closeMu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.done)
}
