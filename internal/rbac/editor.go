package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EditorState is the lifecycle position of an Editor.
type EditorState int

const (
	StateIdle EditorState = iota
	StateEditing
	StateSaving
)

func (s EditorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	}
	return "unknown"
}

var (
	// ErrCommitInProgress rejects re-entrant calls while a save is running.
	ErrCommitInProgress = errors.New("rbac: commit in progress")
	// ErrNotEditing is returned when no role is open for editing.
	ErrNotEditing = errors.New("rbac: editor not open")
)

// Invalidator drops cached views of a role after a successful save.
type Invalidator interface {
	Invalidate(ctx context.Context, role RoleName) error
}

// Editor walks an operator through Idle -> Editing -> Saving for one role at a
// time. A failed commit returns to Editing with the draft intact.
type Editor struct {
	store       Store
	invalidator Invalidator
	logger      *slog.Logger

	mu      sync.Mutex
	state   EditorState
	role    RoleName
	draft   PermissionSet
	dirty   bool
	lastErr error
}

// EditorSnapshot is a copy of the editor's visible state. Dirty reports a
// draft changed since Open that has not been saved.
type EditorSnapshot struct {
	State   EditorState
	Role    RoleName
	Draft   PermissionSet
	Dirty   bool
	LastErr error
}

// NewEditor constructs an idle Editor. invalidator and logger may be nil.
func NewEditor(store Store, invalidator Invalidator, logger *slog.Logger) *Editor {
	return &Editor{store: store, invalidator: invalidator, logger: logger}
}

// Open loads role for editing. A role without a stored row starts all-false.
func (e *Editor) Open(ctx context.Context, role RoleName) (PermissionSet, error) {
	if !role.Valid() {
		return PermissionSet{}, ErrUnknownRole
	}
	e.mu.Lock()
	if e.state == StateSaving {
		e.mu.Unlock()
		return PermissionSet{}, ErrCommitInProgress
	}
	e.mu.Unlock()

	set, err := e.store.Get(ctx, role)
	if err != nil {
		return PermissionSet{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSaving {
		return PermissionSet{}, ErrCommitInProgress
	}
	e.state = StateEditing
	e.role = role
	e.draft = set
	e.dirty = false
	e.lastErr = nil
	return set, nil
}

// Toggle flips one capability of the draft.
func (e *Editor) Toggle(c Capability) (PermissionSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editableLocked(); err != nil {
		return PermissionSet{}, err
	}
	e.draft = e.draft.Toggle(c)
	e.dirty = true
	return e.draft, nil
}

// Replace overwrites the whole draft.
func (e *Editor) Replace(set PermissionSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.editableLocked(); err != nil {
		return err
	}
	e.draft = set
	e.dirty = true
	return nil
}

// Commit saves the draft. Only one commit runs at a time.
func (e *Editor) Commit(ctx context.Context) error {
	e.mu.Lock()
	if err := e.editableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = StateSaving
	role, draft := e.role, e.draft
	e.mu.Unlock()

	err := e.store.Save(ctx, role, draft)

	e.mu.Lock()
	if err != nil {
		e.state = StateEditing
		e.lastErr = err
		e.mu.Unlock()
		return err
	}
	e.state = StateIdle
	e.dirty = false
	e.lastErr = nil
	e.mu.Unlock()

	if e.invalidator != nil {
		if invErr := e.invalidator.Invalidate(ctx, role); invErr != nil && e.logger != nil {
			e.logger.Warn("rbac invalidate after commit", slog.String("role", string(role)), slog.Any("error", invErr))
		}
	}
	return nil
}

// Cancel abandons the draft.
func (e *Editor) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSaving {
		return ErrCommitInProgress
	}
	e.state = StateIdle
	e.dirty = false
	e.lastErr = nil
	return nil
}

// Retained reports whether the snapshot holds unsaved changes for role.
func (s EditorSnapshot) Retained(role RoleName) bool {
	return s.State == StateEditing && s.Role == role && (s.Dirty || s.LastErr != nil)
}

// Snapshot returns the current state.
func (e *Editor) Snapshot() EditorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EditorSnapshot{State: e.state, Role: e.role, Draft: e.draft, Dirty: e.dirty, LastErr: e.lastErr}
}

func (e *Editor) editableLocked() error {
	switch e.state {
	case StateEditing:
		return nil
	case StateSaving:
		return ErrCommitInProgress
	}
	return ErrNotEditing
}

// Workbench holds one Editor per operator key, typically the session ID.
type Workbench struct {
	store       Store
	invalidator Invalidator
	logger      *slog.Logger
	maxIdle     time.Duration
	now         func() time.Time

	mu      sync.Mutex
	editors map[string]*workbenchEntry
}

type workbenchEntry struct {
	editor   *Editor
	lastUsed time.Time
}

// NewWorkbench builds a Workbench. Editors untouched for maxIdle are dropped
// unless they are saving.
func NewWorkbench(store Store, invalidator Invalidator, logger *slog.Logger, maxIdle time.Duration) *Workbench {
	return &Workbench{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		maxIdle:     maxIdle,
		now:         time.Now,
		editors:     make(map[string]*workbenchEntry),
	}
}

// Editor returns the editor for key, creating it when needed.
func (w *Workbench) Editor(key string) *Editor {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.sweepLocked(now)
	entry, ok := w.editors[key]
	if !ok {
		entry = &workbenchEntry{editor: NewEditor(w.store, w.invalidator, w.logger)}
		w.editors[key] = entry
	}
	entry.lastUsed = now
	return entry.editor
}

// Release forgets the editor for key unless it is saving.
func (w *Workbench) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.editors[key]
	if !ok {
		return
	}
	if entry.editor.Snapshot().State == StateSaving {
		return
	}
	delete(w.editors, key)
}

// Len reports how many editors are held.
func (w *Workbench) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.editors)
}

func (w *Workbench) sweepLocked(now time.Time) {
	if w.maxIdle <= 0 {
		return
	}
	for key, entry := range w.editors {
		if now.Sub(entry.lastUsed) < w.maxIdle {
			continue
		}
		if entry.editor.Snapshot().State == StateSaving {
			continue
		}
		delete(w.editors, key)
	}
}
