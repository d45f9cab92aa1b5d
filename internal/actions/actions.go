// Package actions implements the side-effect executors behind the agency
// gate: local file operations inside a workspace root, and tools exposed by
// external MCP servers. Every executor captures a rollback descriptor before
// anything runs; an action that cannot describe its own undo never executes.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrUnknownCategory is returned for categories no handler serves.
	ErrUnknownCategory = errors.New("unknown action category")
	// ErrNoRollback means the handler cannot produce an undo descriptor.
	ErrNoRollback = errors.New("no rollback available")
)

// Handler executes actions of a single category.
type Handler interface {
	// CaptureRollback returns a serialized descriptor sufficient to undo
	// the action, captured before execution.
	CaptureRollback(ctx context.Context, name string, params map[string]any) (string, error)
	Execute(ctx context.Context, name string, params map[string]any) (string, error)
	Rollback(ctx context.Context, name, descriptor string) error
}

// Registry dispatches by action category. It satisfies the agency gate's
// Executor contract.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a category, replacing any previous binding.
func (r *Registry) Register(category string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[category] = h
}

// Categories lists registered categories.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	return out
}

func (r *Registry) handler(category string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return h, nil
}

// CaptureRollback delegates to the category's handler.
func (r *Registry) CaptureRollback(ctx context.Context, category, name string, params map[string]any) (string, error) {
	h, err := r.handler(category)
	if err != nil {
		return "", err
	}
	return h.CaptureRollback(ctx, name, params)
}

// Execute delegates to the category's handler.
func (r *Registry) Execute(ctx context.Context, category, name string, params map[string]any) (string, error) {
	h, err := r.handler(category)
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "action executing",
		slog.String("category", category),
		slog.String("name", name),
	)
	return h.Execute(ctx, name, params)
}

// Rollback delegates to the category's handler.
func (r *Registry) Rollback(ctx context.Context, category, name, descriptor string) error {
	h, err := r.handler(category)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "action rolling back",
		slog.String("category", category),
		slog.String("name", name),
	)
	return h.Rollback(ctx, name, descriptor)
}
