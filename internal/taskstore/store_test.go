package taskstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordResultRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	in := ResultRow{
		TaskID:          "task_abc",
		WorkerID:        "wk_1",
		WorkerName:      "api-builder",
		Success:         true,
		ResultText:      "implemented the endpoint",
		CompletedAtUnix: time.Now().UnixMilli(),
		Duration:        1500 * time.Millisecond,
	}
	if err := s.RecordResult(ctx, in); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	got, ok, err := s.GetResult(ctx, "task_abc")
	if err != nil || !ok {
		t.Fatalf("GetResult: ok=%v err=%v", ok, err)
	}
	if got.WorkerName != "api-builder" || !got.Success || got.ResultText != in.ResultText {
		t.Fatalf("got=%+v, want stored row", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Fatalf("duration=%v, want 1.5s", got.Duration)
	}
}

func TestRecordResultIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first := ResultRow{TaskID: "task_dup", WorkerID: "wk_1", Success: true, ResultText: "first"}
	second := ResultRow{TaskID: "task_dup", WorkerID: "wk_1", Success: false, ResultText: "second"}
	if err := s.RecordResult(ctx, first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := s.RecordResult(ctx, second); err != nil {
		t.Fatalf("second: %v", err)
	}

	got, ok, err := s.GetResult(ctx, "task_dup")
	if err != nil || !ok {
		t.Fatalf("GetResult: ok=%v err=%v", ok, err)
	}
	if got.ResultText != "first" || !got.Success {
		t.Fatalf("got=%+v, want the first write kept", got)
	}
}

func TestGetResultAbsent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, ok, err := s.GetResult(context.Background(), "task_missing"); err != nil || ok {
		t.Fatalf("absent: ok=%v err=%v, want absent without error", ok, err)
	}
}

func TestListResultsNewestFirstWithPaging(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		err := s.RecordResult(ctx, ResultRow{
			TaskID:          "task_" + string(rune('a'+i)),
			WorkerID:        "wk_1",
			Success:         true,
			CompletedAtUnix: base + int64(i)*1000,
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	page, err := s.ListResults(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(page) != 3 || page[0].TaskID != "task_e" || page[2].TaskID != "task_c" {
		t.Fatalf("page=%+v, want e,d,c", page)
	}

	rest, err := s.ListResults(ctx, 10, page[2].CompletedAtUnix)
	if err != nil {
		t.Fatalf("ListResults page 2: %v", err)
	}
	if len(rest) != 2 || rest[0].TaskID != "task_b" || rest[1].TaskID != "task_a" {
		t.Fatalf("rest=%+v, want b,a", rest)
	}
}

func TestWorkerEvents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	events := []WorkerEventRow{
		{WorkerID: "wk_1", WorkerName: "api-builder", Kind: "worker_created", Status: "idle", CreatedAtUnix: base},
		{WorkerID: "wk_1", WorkerName: "api-builder", Kind: "worker_status", Status: "working", CreatedAtUnix: base + 1000},
		{WorkerID: "wk_2", WorkerName: "test-writer", Kind: "worker_created", Status: "idle", CreatedAtUnix: base},
	}
	for i, e := range events {
		if err := s.RecordWorkerEvent(ctx, e); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}

	got, err := s.ListWorkerEvents(ctx, "wk_1", 10)
	if err != nil {
		t.Fatalf("ListWorkerEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2 (other workers filtered)", len(got))
	}
	if got[0].Status != "working" || got[1].Kind != "worker_created" {
		t.Fatalf("got=%+v, want newest first", got)
	}
}

func TestRejectsBlankKeys(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	if err := s.RecordResult(ctx, ResultRow{TaskID: "  "}); err == nil {
		t.Fatalf("expected error for blank task id")
	}
	if err := s.RecordWorkerEvent(ctx, WorkerEventRow{WorkerID: "", Kind: "worker_created"}); err == nil {
		t.Fatalf("expected error for blank worker id")
	}
}

func TestOpenReopensExistingDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.RecordResult(context.Background(), ResultRow{TaskID: "task_x", WorkerID: "wk_1", Success: true}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, ok, err := s2.GetResult(context.Background(), "task_x"); err != nil || !ok {
		t.Fatalf("row lost across reopen: ok=%v err=%v", ok, err)
	}
}
