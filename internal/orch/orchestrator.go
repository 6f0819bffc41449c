// Package orch implements the sub-agent orchestration engine: admission of
// worker agents under a capacity cap, task dispatch with lifecycle tracking,
// an optional capacity-bounded review/revision pipeline, and blocking or
// polling completion queries.
//
// The engine treats everything that produces actual work product as an
// opaque Invoker. Model providers, tools and persistence live behind narrow
// contracts in other packages.
package orch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Invoker is the worker/reviewer invocation contract: given a prompt,
// produce a text result, possibly slowly, possibly fallibly. Worker invokers
// keep conversational state across calls; reviewer invokers are single-turn.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a function to the Invoker contract.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WorkerInvokerFactory builds the stateful invoker backing one worker. It is
// called once per admitted worker; a factory error fails the creation.
type WorkerInvokerFactory func(w WorkerSnapshot) (Invoker, error)

// ReviewerFactory builds a fresh single-turn reviewer for one review round.
type ReviewerFactory func(model string) (Invoker, error)

type Options struct {
	Log *slog.Logger

	// Prefs supplies orchestration defaults, read at dispatch time.
	Prefs Preferences

	NewWorkerInvoker WorkerInvokerFactory
	NewReviewer      ReviewerFactory

	// History optionally exposes the parent conversation tail to review
	// prompts.
	History ConversationSource
}

// Orchestrator is the composition root of the engine. Construct one per
// runtime instance; there is no process-wide singleton.
type Orchestrator struct {
	log   *slog.Logger
	prefs Preferences

	pool     *Pool
	registry *Registry
	notifier *Notifier

	newWorkerInvoker WorkerInvokerFactory
	newReviewer      ReviewerFactory
	history          ConversationSource

	// reviewSlots gates concurrent review sessions, independently of the
	// worker cap.
	reviewSlots chan struct{}

	mu       sync.RWMutex
	invokers map[string]Invoker

	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Prefs == nil {
		return nil, errors.New("missing preferences")
	}
	if opts.NewWorkerInvoker == nil {
		return nil, errors.New("missing worker invoker factory")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	prefs := opts.Prefs.Orchestration().withDefaults()

	notifier := NewNotifier(log)
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		log:              log,
		prefs:            opts.Prefs,
		pool:             NewPool(log, notifier, prefs.MaxWorkers),
		registry:         NewRegistry(),
		notifier:         notifier,
		newWorkerInvoker: opts.NewWorkerInvoker,
		newReviewer:      opts.NewReviewer,
		history:          opts.History,
		reviewSlots:      make(chan struct{}, prefs.MaxConcurrentReviews),
		invokers:         map[string]Invoker{},
		baseCtx:          ctx,
		cancel:           cancel,
	}
	return o, nil
}

func (o *Orchestrator) orchestrationPrefs() OrchestrationPrefs {
	return o.prefs.Orchestration().withDefaults()
}

// CreateWorker admits a new worker, constructing its invoker up front so a
// misconfigured provider fails the creation instead of the first dispatch.
// At capacity it returns a *CapacityError listing the running task ids.
func (o *Orchestrator) CreateWorker(name, purpose string, opts WorkerOptions) (WorkerSnapshot, error) {
	prefs := o.orchestrationPrefs()
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = prefs.DefaultModel
	}
	if opts.Temperature == nil {
		opts.Temperature = prefs.DefaultTemperature
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = prefs.DefaultMaxOutputTokens
	}

	w, err := o.pool.Create(name, purpose, opts, o.registry.RunningTaskIDs)
	if err != nil {
		return WorkerSnapshot{}, err
	}
	snap := w.Snapshot()

	invoker, err := o.newWorkerInvoker(snap)
	if err != nil {
		o.pool.Terminate(w.ID())
		return WorkerSnapshot{}, fmt.Errorf("construct worker invoker: %w", err)
	}
	o.mu.Lock()
	o.invokers[w.ID()] = invoker
	o.mu.Unlock()

	return snap, nil
}

func (o *Orchestrator) workerInvoker(workerID string) (Invoker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inv, ok := o.invokers[workerID]
	return inv, ok
}

// HandOff assigns a task to a worker and returns the task id immediately.
// The unit of work runs on its own goroutine; the caller polls or waits for
// the result. A busy worker is rejected with ErrWorkerBusy rather than
// silently overwriting its current task.
func (o *Orchestrator) HandOff(workerID, description string, taskContext map[string]any) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", errors.New("missing task description")
	}
	w, ok := o.pool.Get(workerID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrWorkerNotFound, strings.TrimSpace(workerID))
	}
	invoker, ok := o.workerInvoker(w.ID())
	if !ok {
		return "", fmt.Errorf("%w: %s has no invoker", ErrWorkerNotFound, w.ID())
	}
	taskID, err := NewTaskID()
	if err != nil {
		return "", err
	}
	if err := w.beginTask(taskID); err != nil {
		return "", fmt.Errorf("%w: worker %s", err, w.ID())
	}

	rec := TaskRecord{
		ID:          taskID,
		WorkerID:    w.ID(),
		WorkerName:  w.Name(),
		Description: description,
		Context:     cloneContext(taskContext),
	}
	o.registry.Begin(rec)
	o.notifier.Publish(Event{Kind: EventWorkerStatus, WorkerID: w.ID(), WorkerName: w.Name(), Status: WorkerStatusWorking})
	o.log.Debug("task handed off", "task_id", taskID, "worker_id", w.ID(), "worker", w.Name())

	go o.dispatch(w, invoker, rec)
	return taskID, nil
}

// dispatch is the supervised asynchronous unit of work. Whatever happens
// inside - invocation fault, review fault, panic - a terminal TaskResult is
// written exactly once and nothing propagates out of the goroutine.
func (o *Orchestrator) dispatch(w *Worker, invoker Invoker, rec TaskRecord) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("dispatch panicked", "task_id", rec.ID, "worker_id", w.ID(), "panic", r)
			o.CompleteTask(rec.ID, w.ID(), false, fmt.Sprintf("dispatch panicked: %v", r))
		}
	}()

	ctx := o.baseCtx
	prefs := o.orchestrationPrefs()

	draft, err := invoker.Invoke(ctx, buildTaskPrompt(rec.Description, rec.Context))
	if err != nil {
		o.CompleteTask(rec.ID, w.ID(), false, fmt.Sprintf("worker invocation failed: %v", err))
		return
	}

	if !prefs.ReviewEnabled || o.newReviewer == nil {
		o.CompleteTask(rec.ID, w.ID(), true, draft)
		return
	}

	success, text, err := o.runReviewLoop(ctx, w, invoker, rec, draft, prefs)
	if err != nil {
		o.CompleteTask(rec.ID, w.ID(), false, fmt.Sprintf("review pipeline failed: %v", err))
		return
	}
	o.CompleteTask(rec.ID, w.ID(), success, text)
}

// CompleteTask is the single mutation point that writes the terminal result,
// flips the worker back to idle with a zeroed revision counter, and fires
// the completion notification. Safe against duplicate invocation: the first
// write wins and later calls are ignored.
func (o *Orchestrator) CompleteTask(taskID, workerID string, success bool, resultText string) {
	rec, hasRecord := o.registry.Record(taskID)

	res := TaskResult{
		TaskID:   taskID,
		WorkerID: workerID,
		Success:  success,
		Result:   resultText,
	}
	if w, ok := o.pool.Get(workerID); ok {
		res.WorkerName = w.Name()
	} else if hasRecord {
		// Worker terminated mid-flight; the record still knows its name.
		res.WorkerName = rec.WorkerName
	}
	if hasRecord {
		res.CompletedAt = time.Now()
		res.Duration = res.CompletedAt.Sub(rec.StartedAt)
	}
	if !o.registry.Complete(res) {
		o.log.Debug("duplicate task completion ignored", "task_id", taskID)
		return
	}

	// The worker may have been terminated mid-flight; the idle flip is then
	// a no-op and the result above is still recorded.
	if w, ok := o.pool.Get(workerID); ok {
		w.finishTask()
		o.notifier.Publish(Event{Kind: EventWorkerStatus, WorkerID: w.ID(), WorkerName: w.Name(), Status: WorkerStatusIdle})
	}
	final, _ := o.registry.Result(taskID)
	o.notifier.Publish(Event{Kind: EventTaskCompleted, WorkerID: workerID, WorkerName: res.WorkerName, Result: &final})
	o.log.Debug("task completed", "task_id", taskID, "worker_id", workerID, "success", success)
}

func (o *Orchestrator) setWorkerStatus(w *Worker, status string) {
	if !w.setStatus(status) {
		return
	}
	o.notifier.Publish(Event{Kind: EventWorkerStatus, WorkerID: w.ID(), WorkerName: w.Name(), Status: status})
}

// GetResult is the non-blocking result lookup.
func (o *Orchestrator) GetResult(taskID string) (TaskResult, bool) {
	return o.registry.Result(taskID)
}

// WaitOne blocks until the task completes or the timeout elapses.
func (o *Orchestrator) WaitOne(taskID string, timeout time.Duration) bool {
	return o.registry.WaitOne(taskID, timeout)
}

// WaitAll returns whichever of the given tasks completed by the deadline.
func (o *Orchestrator) WaitAll(taskIDs []string, timeout time.Duration) []TaskResult {
	return o.registry.WaitAll(taskIDs, timeout)
}

func (o *Orchestrator) GetWorker(id string) (WorkerSnapshot, bool) {
	w, ok := o.pool.Get(id)
	if !ok {
		return WorkerSnapshot{}, false
	}
	return w.Snapshot(), true
}

// ListWorkers returns a point-in-time snapshot of all live workers.
func (o *Orchestrator) ListWorkers() []WorkerSnapshot {
	return o.pool.List()
}

// TerminateWorker removes the worker from the live set. Idempotent; an
// in-flight dispatch is not canceled and still records its result.
func (o *Orchestrator) TerminateWorker(id string) {
	o.pool.Terminate(id)
	o.mu.Lock()
	delete(o.invokers, strings.TrimSpace(id))
	o.mu.Unlock()
}

// Subscribe registers a lifecycle notification callback. Delivery is
// best-effort and never blocks orchestration.
func (o *Orchestrator) Subscribe(fn func(Event)) {
	o.notifier.Subscribe(fn)
}

// Close cancels in-flight dispatches' base context, terminates all workers
// and stops event delivery. Results already recorded stay queryable.
func (o *Orchestrator) Close() {
	o.cancel()
	o.pool.closeAll()
	o.notifier.Close()
}

func cloneContext(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
