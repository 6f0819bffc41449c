package orch

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistrySingleWriter(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Begin(TaskRecord{ID: "task_1", WorkerID: "wk_1", Description: "write"})

	first := TaskResult{TaskID: "task_1", WorkerID: "wk_1", Success: true, Result: "first"}
	if !r.Complete(first) {
		t.Fatalf("first Complete returned false")
	}
	second := TaskResult{TaskID: "task_1", WorkerID: "wk_1", Success: false, Result: "second"}
	if r.Complete(second) {
		t.Fatalf("duplicate Complete returned true")
	}

	got, ok := r.Result("task_1")
	if !ok {
		t.Fatalf("result missing after complete")
	}
	if got.Result != "first" || !got.Success {
		t.Fatalf("result=%+v, want first write preserved", got)
	}
	rec, ok := r.Record("task_1")
	if !ok || rec.Status != TaskCompleted {
		t.Fatalf("record status=%q, want %q", rec.Status, TaskCompleted)
	}
}

func TestRegistryConcurrentComplete(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Begin(TaskRecord{ID: "task_race", WorkerID: "wk_1", Description: "race"})

	var wg sync.WaitGroup
	wins := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if r.Complete(TaskResult{TaskID: "task_race", WorkerID: "wk_1", Result: fmt.Sprintf("writer-%d", n)}) {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("winners=%d, want exactly 1", count)
	}
}

func TestWaitOneCompletesBeforeTimeout(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Begin(TaskRecord{ID: "task_w", WorkerID: "wk_1", Description: "slow"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Complete(TaskResult{TaskID: "task_w", WorkerID: "wk_1", Success: true, Result: "done"})
	}()

	if !r.WaitOne("task_w", 2*time.Second) {
		t.Fatalf("WaitOne timed out waiting for completion")
	}
}

func TestWaitOneTimesOut(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Begin(TaskRecord{ID: "task_never", WorkerID: "wk_1", Description: "never"})

	start := time.Now()
	if r.WaitOne("task_never", 50*time.Millisecond) {
		t.Fatalf("WaitOne=true for a task that never completes")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("WaitOne returned after %v, want at least the timeout", elapsed)
	}
}

func TestWaitAllPartialCompletion(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []string{"task_a", "task_b", "task_c"} {
		r.Begin(TaskRecord{ID: id, WorkerID: "wk_1", Description: id})
	}

	// A completes immediately, B shortly after, C never.
	r.Complete(TaskResult{TaskID: "task_a", WorkerID: "wk_1", Success: true, Result: "a"})
	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Complete(TaskResult{TaskID: "task_b", WorkerID: "wk_1", Success: true, Result: "b"})
	}()

	results := r.WaitAll([]string{"task_a", "task_b", "task_c"}, 500*time.Millisecond)
	if len(results) != 2 {
		t.Fatalf("len(results)=%d, want 2", len(results))
	}
	seen := map[string]bool{}
	for _, res := range results {
		seen[res.TaskID] = true
	}
	if !seen["task_a"] || !seen["task_b"] || seen["task_c"] {
		t.Fatalf("completed set=%v, want a and b only", seen)
	}

	// The caller can compute the pending set from the returned subset.
	pending := map[string]bool{"task_a": true, "task_b": true, "task_c": true}
	for _, res := range results {
		delete(pending, res.TaskID)
	}
	if len(pending) != 1 || !pending["task_c"] {
		t.Fatalf("pending=%v, want {task_c}", pending)
	}
}

func TestWaitAllAllAlreadyComplete(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []string{"task_x", "task_y"} {
		r.Begin(TaskRecord{ID: id, WorkerID: "wk_1", Description: id})
		r.Complete(TaskResult{TaskID: id, WorkerID: "wk_1", Success: true, Result: id})
	}

	start := time.Now()
	results := r.WaitAll([]string{"task_x", "task_y"}, 5*time.Second)
	if len(results) != 2 {
		t.Fatalf("len(results)=%d, want 2", len(results))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("WaitAll blocked %v on already-complete tasks", elapsed)
	}
}

func TestRunningTaskIDs(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Begin(TaskRecord{ID: "task_run", WorkerID: "wk_1", Description: "running"})
	r.Begin(TaskRecord{ID: "task_done", WorkerID: "wk_2", Description: "done"})
	r.Complete(TaskResult{TaskID: "task_done", WorkerID: "wk_2", Success: true})

	ids := r.RunningTaskIDs()
	if len(ids) != 1 || ids[0] != "task_run" {
		t.Fatalf("running=%v, want [task_run]", ids)
	}
}
