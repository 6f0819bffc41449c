package auditlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, maxBytes int64, maxBackups int) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		StateDir:   dir,
		MaxBytes:   maxBytes,
		MaxBackups: maxBackups,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, 0, 0)
	ok := true
	s.Append(Entry{Kind: "worker_created", WorkerID: "wk_1", WorkerName: "api-builder", Status: "idle"})
	s.Append(Entry{Kind: "worker_status", WorkerID: "wk_1", Status: "working"})
	s.Append(Entry{Kind: "task_completed", WorkerID: "wk_1", TaskID: "task_a", Success: &ok})

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len=%d, want 3", len(entries))
	}
	if entries[0].Kind != "task_completed" || entries[2].Kind != "worker_created" {
		t.Fatalf("order=%q,%q,%q, want newest first", entries[0].Kind, entries[1].Kind, entries[2].Kind)
	}
	if entries[0].Success == nil || !*entries[0].Success {
		t.Fatalf("task_completed entry lost its success flag")
	}
	if entries[0].CreatedAt == "" {
		t.Fatalf("created_at should be stamped on append")
	}
}

func TestRotationKeepsBoundedBackups(t *testing.T) {
	t.Parallel()

	// Tiny threshold: every append rotates.
	s, dir := newTestStore(t, 64, 2)
	for i := 0; i < 6; i++ {
		s.Append(Entry{Kind: "worker_status", WorkerID: fmt.Sprintf("wk_%d", i), Status: "working", Detail: strings.Repeat("x", 80)})
	}

	ents, err := os.ReadDir(filepath.Join(dir, "audit"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	rotated := 0
	for _, ent := range ents {
		if strings.HasPrefix(ent.Name(), "events-") {
			rotated++
		}
	}
	if rotated > 2 {
		t.Fatalf("rotated=%d, want at most 2 backups", rotated)
	}
}

func TestListSkipsCorruptLines(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t, 0, 0)
	s.Append(Entry{Kind: "worker_created", WorkerID: "wk_1"})

	path := filepath.Join(dir, "audit", "events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()
	s.Append(Entry{Kind: "worker_terminated", WorkerID: "wk_1"})

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len=%d, want 2 (corrupt line skipped)", len(entries))
	}
}

func TestNewRequiresStateDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{StateDir: "  "}); err == nil {
		t.Fatalf("expected error for missing StateDir")
	}
}
