package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// blockingStore holds Save until release is closed.
type blockingStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, role RoleName, set PermissionSet) error {
	close(s.entered)
	<-s.release
	return s.MemoryStore.Save(ctx, role, set)
}

func TestEditorLifecycle(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleStaff, CapUserManagement)
	e := NewEvaluator(store, WithCacheTTL(time.Minute))
	editor := NewEditor(store, e, nil)
	ctx := context.Background()

	require.Equal(t, StateIdle, editor.Snapshot().State)

	set, err := editor.Open(ctx, RoleStaff)
	require.NoError(t, err)
	require.Equal(t, PermissionSetOf(CapUserManagement), set)
	require.Equal(t, StateEditing, editor.Snapshot().State)

	draft, err := editor.Toggle(CapAnalyticsReports)
	require.NoError(t, err)
	require.Equal(t, PermissionSetOf(CapUserManagement, CapAnalyticsReports), draft)

	require.True(t, e.Can(ctx, RoleStaff, CapUserManagement))
	require.NoError(t, editor.Commit(ctx))
	require.Equal(t, StateIdle, editor.Snapshot().State)

	stored, err := store.MemoryStore.Get(ctx, RoleStaff)
	require.NoError(t, err)
	require.Equal(t, draft, stored)
	require.True(t, e.Can(ctx, RoleStaff, CapAnalyticsReports), "commit invalidates the cache")
}

func TestEditorOpenUnsavedRoleStartsEmpty(t *testing.T) {
	editor := NewEditor(NewMemoryStore(), nil, nil)
	set, err := editor.Open(context.Background(), RoleBilling)
	require.NoError(t, err)
	require.Equal(t, PermissionSet{}, set)
}

func TestEditorRejectsUnknownRole(t *testing.T) {
	editor := NewEditor(NewMemoryStore(), nil, nil)
	_, err := editor.Open(context.Background(), RoleName("root"))
	require.ErrorIs(t, err, ErrUnknownRole)
	require.Equal(t, StateIdle, editor.Snapshot().State)
}

func TestEditorRequiresOpen(t *testing.T) {
	editor := NewEditor(NewMemoryStore(), nil, nil)
	_, err := editor.Toggle(CapUserManagement)
	require.ErrorIs(t, err, ErrNotEditing)
	require.ErrorIs(t, editor.Replace(PermissionSet{}), ErrNotEditing)
	require.ErrorIs(t, editor.Commit(context.Background()), ErrNotEditing)
}

func TestEditorFailedCommitKeepsDraft(t *testing.T) {
	store := newCountingStore()
	seed(t, store, RoleBilling, CapBillingInvoices)
	editor := NewEditor(store, nil, nil)
	ctx := context.Background()

	_, err := editor.Open(ctx, RoleBilling)
	require.NoError(t, err)
	require.NoError(t, editor.Replace(PermissionSetOf(CapBillingInvoices, CapPaymentProcessing)))

	store.setFailSaves(true)
	err = editor.Commit(ctx)
	require.ErrorIs(t, err, ErrPersistence)

	snap := editor.Snapshot()
	require.Equal(t, StateEditing, snap.State)
	require.Equal(t, RoleBilling, snap.Role)
	require.Equal(t, PermissionSetOf(CapBillingInvoices, CapPaymentProcessing), snap.Draft)
	require.ErrorIs(t, snap.LastErr, ErrPersistence)

	stored, err := store.MemoryStore.Get(ctx, RoleBilling)
	require.NoError(t, err)
	require.Equal(t, PermissionSetOf(CapBillingInvoices), stored, "failed save leaves the row untouched")

	store.setFailSaves(false)
	require.NoError(t, editor.Commit(ctx))
	require.Nil(t, editor.Snapshot().LastErr)
}

func TestEditorRejectsReentrantCalls(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	editor := NewEditor(store, nil, nil)
	ctx := context.Background()
	_, err := editor.Open(ctx, RoleAdmin)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- editor.Commit(ctx) }()
	<-store.entered

	require.Equal(t, StateSaving, editor.Snapshot().State)
	require.ErrorIs(t, editor.Commit(ctx), ErrCommitInProgress)
	_, err = editor.Toggle(CapUserManagement)
	require.ErrorIs(t, err, ErrCommitInProgress)
	_, err = editor.Open(ctx, RoleStaff)
	require.ErrorIs(t, err, ErrCommitInProgress)
	require.ErrorIs(t, editor.Cancel(), ErrCommitInProgress)

	close(store.release)
	require.NoError(t, <-done)
	require.Equal(t, StateIdle, editor.Snapshot().State)
}

func TestEditorCancelDiscardsDraft(t *testing.T) {
	store := NewMemoryStore()
	editor := NewEditor(store, nil, nil)
	ctx := context.Background()
	_, err := editor.Open(ctx, RoleStaff)
	require.NoError(t, err)
	_, err = editor.Toggle(CapSystemSettings)
	require.NoError(t, err)

	require.NoError(t, editor.Cancel())
	require.Equal(t, StateIdle, editor.Snapshot().State)
	require.Zero(t, store.Len())
}

func TestWorkbenchKeepsEditorPerKey(t *testing.T) {
	wb := NewWorkbench(NewMemoryStore(), nil, nil, time.Minute)
	a := wb.Editor("session-a")
	require.Same(t, a, wb.Editor("session-a"))
	require.NotSame(t, a, wb.Editor("session-b"))
	require.Equal(t, 2, wb.Len())

	wb.Release("session-a")
	require.Equal(t, 1, wb.Len())
}

func TestWorkbenchSweepsIdleEditors(t *testing.T) {
	wb := NewWorkbench(NewMemoryStore(), nil, nil, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	wb.now = func() time.Time { return now }

	wb.Editor("stale")
	now = now.Add(2 * time.Minute)
	wb.Editor("fresh")
	require.Equal(t, 1, wb.Len())
}

func TestWorkbenchKeepsSavingEditors(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	wb := NewWorkbench(store, nil, nil, time.Minute)
	ctx := context.Background()
	editor := wb.Editor("saving")
	_, err := editor.Open(ctx, RoleAdmin)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- editor.Commit(ctx) }()
	<-store.entered

	wb.Release("saving")
	require.Equal(t, 1, wb.Len())

	close(store.release)
	require.NoError(t, <-done)
	wb.Release("saving")
	require.Zero(t, wb.Len())
}

func TestEditorAdminPaymentScenario(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, RoleAdmin, CapUserManagement)
	editor := NewEditor(store, nil, nil)
	ctx := context.Background()

	_, err := editor.Open(ctx, RoleAdmin)
	require.NoError(t, err)
	_, err = editor.Toggle(CapPaymentProcessing)
	require.NoError(t, err)
	require.NoError(t, editor.Commit(ctx))

	got, err := store.Get(ctx, RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, PermissionSet{UserManagement: true, PaymentProcessing: true}, got)
}

func TestEditorRetainsOnlyUnsavedChanges(t *testing.T) {
	store := newCountingStore()
	editor := NewEditor(store, nil, nil)
	ctx := context.Background()

	_, err := editor.Open(ctx, RoleBilling)
	require.NoError(t, err)
	require.False(t, editor.Snapshot().Dirty)
	require.False(t, editor.Snapshot().Retained(RoleBilling), "an untouched draft is reloaded")

	_, err = editor.Toggle(CapSystemSettings)
	require.NoError(t, err)
	snap := editor.Snapshot()
	require.True(t, snap.Dirty)
	require.True(t, snap.Retained(RoleBilling))
	require.False(t, snap.Retained(RoleStaff))

	store.setFailSaves(true)
	require.ErrorIs(t, editor.Commit(ctx), ErrPersistence)
	require.True(t, editor.Snapshot().Retained(RoleBilling))

	store.setFailSaves(false)
	require.NoError(t, editor.Commit(ctx))
	snap = editor.Snapshot()
	require.False(t, snap.Dirty)
	require.False(t, snap.Retained(RoleBilling))

	_, err = editor.Open(ctx, RoleBilling)
	require.NoError(t, err)
	require.NoError(t, editor.Replace(PermissionSetOf(CapUserManagement)))
	require.NoError(t, editor.Cancel())
	require.False(t, editor.Snapshot().Dirty)
}
