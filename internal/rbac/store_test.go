package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type stubRow struct {
	values []bool
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		*dest[i].(*bool) = r.values[i]
	}
	return nil
}

type stubDB struct {
	row      stubRow
	execTag  pgconn.CommandTag
	execErr  error
	execArgs []any
	deadline bool
}

func (s *stubDB) Exec(ctx context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	_, s.deadline = ctx.Deadline()
	s.execArgs = args
	return s.execTag, s.execErr
}

func (s *stubDB) QueryRow(ctx context.Context, _ string, _ ...any) pgx.Row {
	_, s.deadline = ctx.Deadline()
	return s.row
}

func TestPGStoreGetScansRow(t *testing.T) {
	db := &stubDB{row: stubRow{values: []bool{true, false, false, true, false}}}
	set, err := NewPGStore(db, time.Second).Get(context.Background(), RoleStaff)
	require.NoError(t, err)
	require.Equal(t, PermissionSetOf(CapUserManagement, CapAnalyticsReports), set)
	require.True(t, db.deadline)
}

func TestPGStoreGetMissingRowIsAllFalse(t *testing.T) {
	db := &stubDB{row: stubRow{err: pgx.ErrNoRows}}
	set, err := NewPGStore(db, 0).Get(context.Background(), RoleBilling)
	require.NoError(t, err)
	require.Equal(t, PermissionSet{}, set)
}

func TestPGStoreGetFailureIsPersistenceError(t *testing.T) {
	db := &stubDB{row: stubRow{err: context.DeadlineExceeded}}
	_, err := NewPGStore(db, time.Second).Get(context.Background(), RoleBilling)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "timed out")

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "read", perr.Op)
}

func TestPGStoreRejectsUnknownRole(t *testing.T) {
	store := NewPGStore(&stubDB{}, time.Second)
	_, err := store.Get(context.Background(), RoleName("root"))
	require.ErrorIs(t, err, ErrUnknownRole)
	require.ErrorIs(t, store.Save(context.Background(), RoleName("root"), PermissionSet{}), ErrUnknownRole)
}

func TestPGStoreSaveUpserts(t *testing.T) {
	db := &stubDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	err := NewPGStore(db, time.Second).Save(context.Background(), RoleBilling, PermissionSetOf(CapBillingInvoices))
	require.NoError(t, err)
	require.Equal(t, []any{"billing", false, false, false, false, true}, db.execArgs)
}

func TestPGStoreSaveFailures(t *testing.T) {
	db := &stubDB{execErr: &pgconn.PgError{Code: "57014", Message: "canceling statement"}}
	err := NewPGStore(db, time.Second).Save(context.Background(), RoleBilling, PermissionSet{})
	require.ErrorIs(t, err, ErrPersistence)
	require.Contains(t, err.Error(), "57014")

	db = &stubDB{execTag: pgconn.NewCommandTag("INSERT 0 0")}
	err = NewPGStore(db, time.Second).Save(context.Background(), RoleBilling, PermissionSet{})
	require.ErrorIs(t, err, ErrPersistence)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	set, err := store.Get(ctx, RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, PermissionSet{}, set)

	require.NoError(t, store.Save(ctx, RoleAdmin, PermissionSetOf(Capabilities()...)))
	require.NoError(t, store.Save(ctx, RoleAdmin, PermissionSetOf(CapSystemSettings)))
	require.Equal(t, 1, store.Len())

	set, err = store.Get(ctx, RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, PermissionSetOf(CapSystemSettings), set)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemoryStore().Save(ctx, RoleAdmin, PermissionSet{})
	require.ErrorIs(t, err, ErrPersistence)
}
