package actions

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileWriteExecuteAndRollbackRestoresContent(t *testing.T) {
	root := t.TempDir()
	h := NewFileWriteHandler(root)
	ctx := context.Background()

	target := filepath.Join(root, "notes.md")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	params := map[string]any{"path": "notes.md", "content": "replaced"}
	descriptor, err := h.CaptureRollback(ctx, "save_note", params)
	if err != nil {
		t.Fatalf("CaptureRollback: %v", err)
	}
	if _, err := h.Execute(ctx, "save_note", params); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, _ := os.ReadFile(target); string(got) != "replaced" {
		t.Fatalf("write did not apply: %q", got)
	}

	if err := h.Rollback(ctx, "save_note", descriptor); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if got, _ := os.ReadFile(target); string(got) != "original" {
		t.Errorf("rollback did not restore content: %q", got)
	}
}

func TestFileWriteRollbackRemovesNewFile(t *testing.T) {
	root := t.TempDir()
	h := NewFileWriteHandler(root)
	ctx := context.Background()

	params := map[string]any{"path": "fresh.txt", "content": "hello"}
	descriptor, err := h.CaptureRollback(ctx, "save", params)
	if err != nil {
		t.Fatalf("CaptureRollback: %v", err)
	}
	if _, err := h.Execute(ctx, "save", params); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := h.Rollback(ctx, "save", descriptor); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "fresh.txt")); !os.IsNotExist(err) {
		t.Error("rollback should remove a file that did not exist before")
	}
}

func TestFilePathTraversalConfinedToRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "workspace")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	h := NewFileWriteHandler(root)
	if _, err := h.Execute(context.Background(), "save", map[string]any{
		"path":    "../escape.txt",
		"content": "x",
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(filepath.Join(parent, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("write escaped the workspace root")
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); err != nil {
		t.Errorf("expected traversal confined inside the root: %v", err)
	}
}

func TestFileReadHandler(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("contents"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	h := NewFileReadHandler(root)
	ctx := context.Background()

	descriptor, err := h.CaptureRollback(ctx, "read", map[string]any{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("CaptureRollback: %v", err)
	}
	if descriptor != "" {
		t.Errorf("reads need no rollback descriptor, got %q", descriptor)
	}

	out, err := h.Execute(ctx, "read", map[string]any{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "contents" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNoteHandlerAppendAndRollback(t *testing.T) {
	journal := filepath.Join(t.TempDir(), "journal.log")
	h := NewNoteHandler(journal)
	ctx := context.Background()

	if _, err := h.Execute(ctx, "note", map[string]any{"text": "first entry"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	descriptor, err := h.CaptureRollback(ctx, "note", nil)
	if err != nil {
		t.Fatalf("CaptureRollback: %v", err)
	}
	if _, err := h.Execute(ctx, "note", map[string]any{"text": "second entry"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := h.Rollback(ctx, "note", descriptor); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	content, _ := os.ReadFile(journal)
	if !strings.Contains(string(content), "first entry") || strings.Contains(string(content), "second entry") {
		t.Errorf("rollback should drop only the second entry: %q", content)
	}
}

func TestRegistryDispatch(t *testing.T) {
	root := t.TempDir()
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Register("file.read", NewFileReadHandler(root))

	if _, err := r.Execute(context.Background(), "shell.exec", "ls", nil); err == nil {
		t.Error("expected error for unregistered category")
	}

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}
	out, err := r.Execute(context.Background(), "file.read", "read", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "x" {
		t.Errorf("unexpected output %q", out)
	}
}
