package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileHandler serves the file.read and file.write categories inside a
// workspace root. Paths outside the root are rejected.
type FileHandler struct {
	root  string
	write bool
}

// NewFileReadHandler creates a read-only file handler.
func NewFileReadHandler(root string) *FileHandler {
	return &FileHandler{root: root}
}

// NewFileWriteHandler creates a read-write file handler.
func NewFileWriteHandler(root string) *FileHandler {
	return &FileHandler{root: root, write: true}
}

// writeRollback is the undo descriptor for a file write.
type writeRollback struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed"`
	Content []byte `json:"content,omitempty"`
}

func (h *FileHandler) resolve(params map[string]any) (string, error) {
	raw, _ := params["path"].(string)
	if raw == "" {
		return "", fmt.Errorf("missing required parameter: path")
	}
	path := filepath.Join(h.root, filepath.Clean("/"+raw))
	if !strings.HasPrefix(path, filepath.Clean(h.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace root: %s", raw)
	}
	return path, nil
}

// CaptureRollback snapshots the target file's current state. Reads need no
// undo and return an empty descriptor.
func (h *FileHandler) CaptureRollback(_ context.Context, _ string, params map[string]any) (string, error) {
	if !h.write {
		return "", nil
	}
	path, err := h.resolve(params)
	if err != nil {
		return "", err
	}

	rb := writeRollback{Path: path}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		rb.Existed = true
		rb.Content = content
	case os.IsNotExist(err):
		rb.Existed = false
	default:
		return "", fmt.Errorf("%w: reading prior content: %v", ErrNoRollback, err)
	}

	data, err := json.Marshal(rb)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRollback, err)
	}
	return string(data), nil
}

// Execute reads or writes the target file.
func (h *FileHandler) Execute(_ context.Context, _ string, params map[string]any) (string, error) {
	path, err := h.resolve(params)
	if err != nil {
		return "", err
	}

	if !h.write {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(content), nil
	}

	content, _ := params["content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// Rollback restores the pre-write state: prior content if the file existed,
// removal if it did not.
func (h *FileHandler) Rollback(_ context.Context, _ string, descriptor string) error {
	if !h.write {
		return nil
	}
	var rb writeRollback
	if err := json.Unmarshal([]byte(descriptor), &rb); err != nil {
		return fmt.Errorf("parsing rollback descriptor: %w", err)
	}

	if !rb.Existed {
		if err := os.Remove(rb.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", rb.Path, err)
		}
		return nil
	}
	if err := os.WriteFile(rb.Path, rb.Content, 0o644); err != nil {
		return fmt.Errorf("restoring %s: %w", rb.Path, err)
	}
	return nil
}

// NoteHandler serves the memory.note category: appending timestamped notes
// to a single journal file.
type NoteHandler struct {
	path string
}

// NewNoteHandler creates a note handler writing to the given journal file.
func NewNoteHandler(path string) *NoteHandler {
	return &NoteHandler{path: path}
}

// noteRollback records the journal length before the append.
type noteRollback struct {
	Size int64 `json:"size"`
}

func (h *NoteHandler) CaptureRollback(_ context.Context, _ string, _ map[string]any) (string, error) {
	var size int64
	if info, err := os.Stat(h.path); err == nil {
		size = info.Size()
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %v", ErrNoRollback, err)
	}
	data, _ := json.Marshal(noteRollback{Size: size})
	return string(data), nil
}

func (h *NoteHandler) Execute(_ context.Context, _ string, params map[string]any) (string, error) {
	text, _ := params["text"].(string)
	if text == "" {
		return "", fmt.Errorf("missing required parameter: text")
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), text)
	if _, err := f.WriteString(line); err != nil {
		return "", fmt.Errorf("appending note: %w", err)
	}
	return "note recorded", nil
}

// Rollback truncates the journal back to its pre-append size.
func (h *NoteHandler) Rollback(_ context.Context, _ string, descriptor string) error {
	var rb noteRollback
	if err := json.Unmarshal([]byte(descriptor), &rb); err != nil {
		return fmt.Errorf("parsing rollback descriptor: %w", err)
	}
	if rb.Size == 0 {
		if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.Truncate(h.path, rb.Size)
}
