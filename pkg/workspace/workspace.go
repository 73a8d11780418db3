// Package workspace manages per-request scratch directories.
//
// Every render gets a freshly created directory that nothing else uses, and
// the directory is removed when the render finishes, whatever the outcome.
// Use [Manager.With] to get both guarantees from one call:
//
//	err := mgr.With(ctx, func(ws *workspace.Workspace) error {
//	    return os.WriteFile(ws.Path("diagram.tex"), doc, 0o600)
//	})
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// dirPrefix is prepended to every workspace directory name.
const dirPrefix = "render-"

// Workspace is one request-scoped directory.
type Workspace struct {
	ID  string
	Dir string

	once       sync.Once
	releaseErr error
}

// Path returns the absolute path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Manager creates and removes workspaces under a root directory.
type Manager struct {
	root   string
	logger *log.Logger
}

// NewManager returns a Manager rooted at root. An empty root uses
// os.TempDir(); a nil logger discards log output.
func NewManager(root string, logger *log.Logger) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{root: root, logger: logger}
}

// Root returns the directory workspaces are created in.
func (m *Manager) Root() string { return m.root }

// Acquire creates a new, empty workspace. os.Mkdir fails on an existing path,
// so a name is never shared even if two IDs collided.
func (m *Manager) Acquire() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	id := uuid.NewString()
	dir := filepath.Join(m.root, dirPrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	m.logger.Debug("workspace acquired", "id", id, "dir", dir)
	return &Workspace{ID: id, Dir: dir}, nil
}

// Release removes the workspace and everything in it. Files that were never
// created are not an error. Only the first call does any work; later calls
// return the first result.
func (m *Manager) Release(w *Workspace) error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.releaseErr = fmt.Errorf("remove workspace %s: %w", w.ID, err)
			return
		}
		m.logger.Debug("workspace released", "id", w.ID)
	})
	return w.releaseErr
}

// With acquires a workspace, runs fn in it and releases it on every path,
// including a panic in fn (re-raised after cleanup). The returned error is
// fn's. A release failure is logged and never replaces it.
func (m *Manager) With(ctx context.Context, fn func(*Workspace) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := m.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(w); relErr != nil {
			m.logger.Warn("workspace cleanup failed", "id", w.ID, "err", relErr)
		}
	}()
	return fn(w)
}
