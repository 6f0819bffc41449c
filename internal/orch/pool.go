package orch

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxWorkers bounds the number of live workers when the preferences
// do not say otherwise.
const DefaultMaxWorkers = 25

// CapacityError is the structured admission refusal: the pool is full.
// RunningTaskIDs lists tasks currently running on live workers so the caller
// can decide whether to wait for one or terminate something.
type CapacityError struct {
	Limit          int
	RunningTaskIDs []string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("worker pool at capacity (%d live workers)", e.Limit)
}

// Pool owns the set of live worker handles and enforces the admission cap.
type Pool struct {
	log      *slog.Logger
	notifier *Notifier

	mu      sync.RWMutex
	max     int
	workers map[string]*Worker
}

func NewPool(log *slog.Logger, notifier *Notifier, max int) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if max <= 0 {
		max = DefaultMaxWorkers
	}
	return &Pool{
		log:      log,
		notifier: notifier,
		max:      max,
		workers:  map[string]*Worker{},
	}
}

// Create admits a new worker. The capacity check and the insertion happen
// under one lock so concurrent creators cannot both take the last slot.
// runningTasks supplies the busy-task ids reported on refusal.
func (p *Pool) Create(name, purpose string, opts WorkerOptions, runningTasks func() []string) (*Worker, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("missing worker name")
	}
	id, err := NewWorkerID()
	if err != nil {
		return nil, err
	}
	w := newWorker(id, name, purpose, opts)

	p.mu.Lock()
	if len(p.workers) >= p.max {
		limit := p.max
		p.mu.Unlock()
		var busy []string
		if runningTasks != nil {
			busy = runningTasks()
		}
		sort.Strings(busy)
		return nil, &CapacityError{Limit: limit, RunningTaskIDs: busy}
	}
	p.workers[id] = w
	p.mu.Unlock()

	p.log.Debug("worker created", "worker_id", id, "name", name)
	p.notifier.Publish(Event{Kind: EventWorkerCreated, WorkerID: id, WorkerName: name, Status: WorkerStatusIdle})
	return w, nil
}

func (p *Pool) Get(id string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[strings.TrimSpace(id)]
	return w, ok
}

// Terminate removes the handle from the live set and marks it terminated.
// Idempotent: unknown or already-terminated ids are a no-op. An in-flight
// dispatch against the worker is not canceled; its result is still recorded.
func (p *Pool) Terminate(id string) {
	id = strings.TrimSpace(id)
	p.mu.Lock()
	w, ok := p.workers[id]
	if ok {
		delete(p.workers, id)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	w.terminate()
	p.log.Debug("worker terminated", "worker_id", id, "name", w.Name())
	p.notifier.Publish(Event{Kind: EventWorkerTerminated, WorkerID: id, WorkerName: w.Name(), Status: WorkerStatusTerminated})
}

// List returns a point-in-time copy of all live handles, sorted by creation
// time then id for stable output.
func (p *Pool) List() []WorkerSnapshot {
	p.mu.RLock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.RUnlock()

	out := make([]WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

func (p *Pool) closeAll() {
	p.mu.Lock()
	workers := p.workers
	p.workers = map[string]*Worker{}
	p.mu.Unlock()
	for _, w := range workers {
		w.terminate()
	}
}
