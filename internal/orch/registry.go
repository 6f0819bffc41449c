package orch

import (
	"strings"
	"sync"
	"time"
)

type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord is one unit of dispatched work.
type TaskRecord struct {
	ID          string         `json:"id"`
	WorkerID    string         `json:"worker_id"`
	WorkerName  string         `json:"worker_name,omitempty"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Status      TaskStatus     `json:"status"`
}

// TaskResult is the immutable terminal outcome of a task. Written exactly
// once; the registry ignores later writes for the same task id.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	WorkerID    string        `json:"worker_id"`
	WorkerName  string        `json:"worker_name"`
	Success     bool          `json:"success"`
	Result      string        `json:"result"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Registry is the append-only task ledger and the single source of truth for
// both polling and blocking completion queries.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*TaskRecord
	results map[string]*TaskResult
	// done carries one lazily created channel per task id, closed when the
	// result lands. Waiting on a not-yet-dispatched id is allowed.
	done map[string]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		records: map[string]*TaskRecord{},
		results: map[string]*TaskResult{},
		done:    map[string]chan struct{}{},
	}
}

func (r *Registry) Begin(rec TaskRecord) {
	rec.Status = TaskRunning
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rec
	r.records[rec.ID] = &cp
}

// Complete records the terminal result. First write wins; a duplicate write
// is ignored and reported as false. The record status flips atomically with
// the result insert, so readers never observe a torn state.
func (r *Registry) Complete(res TaskResult) bool {
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.results[res.TaskID]; exists {
		return false
	}
	cp := res
	r.results[res.TaskID] = &cp
	if rec, ok := r.records[res.TaskID]; ok {
		if res.Success {
			rec.Status = TaskCompleted
		} else {
			rec.Status = TaskFailed
		}
	}
	if ch, ok := r.done[res.TaskID]; ok {
		close(ch)
	} else {
		ch := make(chan struct{})
		close(ch)
		r.done[res.TaskID] = ch
	}
	return true
}

func (r *Registry) Record(taskID string) (TaskRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[strings.TrimSpace(taskID)]
	if !ok {
		return TaskRecord{}, false
	}
	return *rec, true
}

// Result is the non-blocking lookup.
func (r *Registry) Result(taskID string) (TaskResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[strings.TrimSpace(taskID)]
	if !ok {
		return TaskResult{}, false
	}
	return *res, true
}

// RunningTaskIDs lists tasks that have begun but not completed.
func (r *Registry) RunningTaskIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0)
	for id, rec := range r.records {
		if rec.Status == TaskRunning {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) doneChan(taskID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.done[taskID]; ok {
		return ch
	}
	ch := make(chan struct{})
	if _, completed := r.results[taskID]; completed {
		close(ch)
	}
	r.done[taskID] = ch
	return ch
}

// WaitOne blocks until the task has a result or the timeout elapses.
func (r *Registry) WaitOne(taskID string, timeout time.Duration) bool {
	taskID = strings.TrimSpace(taskID)
	if _, ok := r.Result(taskID); ok {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.doneChan(taskID):
		return true
	case <-timer.C:
		_, ok := r.Result(taskID)
		return ok
	}
}

// WaitAll returns the results for whichever of the given tasks complete by
// the deadline. Already-completed results are collected first; partial
// completion is a valid, expected outcome, never an error.
func (r *Registry) WaitAll(taskIDs []string, timeout time.Duration) []TaskResult {
	deadline := time.Now().Add(timeout)
	out := make([]TaskResult, 0, len(taskIDs))
	pending := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if res, ok := r.Result(id); ok {
			out = append(out, res)
			continue
		}
		pending = append(pending, id)
	}
	for _, id := range pending {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if res, ok := r.Result(id); ok {
				out = append(out, res)
			}
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-r.doneChan(id):
			timer.Stop()
			if res, ok := r.Result(id); ok {
				out = append(out, res)
			}
		case <-timer.C:
			if res, ok := r.Result(id); ok {
				out = append(out, res)
			}
		}
	}
	return out
}
