package orch

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Worker statuses. A worker moves idle -> working -> (being_reviewed ->
// revising -> being_reviewed)* -> idle. "terminated" is reachable from any
// state and is absorbing. There is no error state: a failed dispatch records
// a failed result and the worker returns to idle, available for reuse.
const (
	WorkerStatusIdle          = "idle"
	WorkerStatusWorking       = "working"
	WorkerStatusBeingReviewed = "being_reviewed"
	WorkerStatusRevising      = "revising"
	WorkerStatusTerminated    = "terminated"
)

var (
	// ErrWorkerBusy is returned by HandOff when the target worker has not
	// returned to idle yet. A worker accepts one task at a time.
	ErrWorkerBusy = errors.New("worker is busy")

	// ErrWorkerNotFound is returned for lookups of unknown or terminated ids.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrWorkerTerminated is returned when a dispatch targets a handle that
	// was terminated between lookup and task start.
	ErrWorkerTerminated = errors.New("worker is terminated")
)

// WorkerOptions carries per-worker model settings. Zero values fall back to
// the orchestration preferences at creation time.
type WorkerOptions struct {
	Model           string
	Temperature     *float64
	MaxOutputTokens int
}

// Worker is one live sub-agent handle. It is owned by the Pool; other
// components reference it by id or hold it only for the duration of one
// dispatch.
type Worker struct {
	id      string
	name    string
	purpose string
	opts    WorkerOptions

	mu            sync.RWMutex
	status        string
	currentTaskID string
	revisionCount int
	createdAt     time.Time
}

func newWorker(id, name, purpose string, opts WorkerOptions) *Worker {
	return &Worker{
		id:        id,
		name:      strings.TrimSpace(name),
		purpose:   strings.TrimSpace(purpose),
		opts:      opts,
		status:    WorkerStatusIdle,
		createdAt: time.Now(),
	}
}

func (w *Worker) ID() string      { return w.id }
func (w *Worker) Name() string    { return w.name }
func (w *Worker) Purpose() string { return w.purpose }

func (w *Worker) Options() WorkerOptions {
	return w.opts
}

func (w *Worker) Status() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) CurrentTaskID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentTaskID
}

func (w *Worker) RevisionCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revisionCount
}

// beginTask flips an idle worker to working and records the task id. It is
// the admission point for the one-task-at-a-time invariant.
func (w *Worker) beginTask(taskID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.status {
	case WorkerStatusIdle:
	case WorkerStatusTerminated:
		return ErrWorkerTerminated
	default:
		return ErrWorkerBusy
	}
	w.status = WorkerStatusWorking
	w.currentTaskID = taskID
	return nil
}

// finishTask returns the worker to idle and resets the revision counter.
// No-op on a terminated handle (an in-flight dispatch may outlive Terminate).
func (w *Worker) finishTask() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == WorkerStatusTerminated {
		return
	}
	w.status = WorkerStatusIdle
	w.currentTaskID = ""
	w.revisionCount = 0
}

// setStatus moves a non-terminated worker between the in-dispatch states.
// Returns false when the handle is already terminated.
func (w *Worker) setStatus(status string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == WorkerStatusTerminated {
		return false
	}
	w.status = status
	return true
}

func (w *Worker) terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerStatusTerminated
}

func (w *Worker) incrementRevision() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.revisionCount++
	return w.revisionCount
}

// WorkerSnapshot is a point-in-time copy of a handle, safe to hold across
// concurrent mutation.
type WorkerSnapshot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Purpose       string    `json:"purpose"`
	Status        string    `json:"status"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	RevisionCount int       `json:"revision_count"`
	Model         string    `json:"model,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (w *Worker) Snapshot() WorkerSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerSnapshot{
		ID:            w.id,
		Name:          w.name,
		Purpose:       w.purpose,
		Status:        w.status,
		CurrentTaskID: w.currentTaskID,
		RevisionCount: w.revisionCount,
		Model:         w.opts.Model,
		CreatedAt:     w.createdAt,
	}
}
