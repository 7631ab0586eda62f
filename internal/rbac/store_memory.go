package rbac

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store for demos and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[RoleName]PermissionSet
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[RoleName]PermissionSet)}
}

// Get returns the stored set or the all-false set.
func (s *MemoryStore) Get(ctx context.Context, role RoleName) (PermissionSet, error) {
	if !role.Valid() {
		return PermissionSet{}, ErrUnknownRole
	}
	if err := ctx.Err(); err != nil {
		return PermissionSet{}, &PersistenceError{Op: "read", Role: role, Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[role], nil
}

// Save overwrites or inserts the row for role.
func (s *MemoryStore) Save(ctx context.Context, role RoleName, set PermissionSet) error {
	if !role.Valid() {
		return ErrUnknownRole
	}
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "write", Role: role, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[role] = set
	return nil
}

// Len reports the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

var _ Store = (*MemoryStore)(nil)
