package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultStoreTimeout bounds every permission store call when none is configured.
const DefaultStoreTimeout = 5 * time.Second

var (
	// ErrPersistence matches every *PersistenceError via errors.Is.
	ErrPersistence = errors.New("rbac: persistence failure")
	// ErrUnknownRole is returned when a role outside the registry is used as a key.
	ErrUnknownRole = errors.New("rbac: unknown role")
)

// PersistenceError reports a failed read or write against the permission store.
type PersistenceError struct {
	Op   string
	Role RoleName
	Err  error
}

func (e *PersistenceError) Error() string {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return fmt.Sprintf("rbac: %s permissions for %q timed out", e.Op, e.Role)
	}
	return fmt.Sprintf("rbac: %s permissions for %q: %v", e.Op, e.Role, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Store is the durable mapping from role name to PermissionSet.
type Store interface {
	// Get returns the set for role. A missing row yields the all-false set.
	Get(ctx context.Context, role RoleName) (PermissionSet, error)
	// Save upserts the set keyed by role.
	Save(ctx context.Context, role RoleName, set PermissionSet) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGStore keeps permission rows in the permissions table.
type PGStore struct {
	db      dbtx
	timeout time.Duration
}

// NewPGStore constructs a PGStore over a pool or transaction.
func NewPGStore(db dbtx, timeout time.Duration) *PGStore {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &PGStore{db: db, timeout: timeout}
}

const selectPermissionsSQL = `SELECT user_management, payment_processing, system_settings, analytics_reports, billing_invoices
FROM permissions WHERE role = $1`

const upsertPermissionsSQL = `INSERT INTO permissions (role, user_management, payment_processing, system_settings, analytics_reports, billing_invoices, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (role) DO UPDATE SET
	user_management = EXCLUDED.user_management,
	payment_processing = EXCLUDED.payment_processing,
	system_settings = EXCLUDED.system_settings,
	analytics_reports = EXCLUDED.analytics_reports,
	billing_invoices = EXCLUDED.billing_invoices,
	updated_at = EXCLUDED.updated_at`

// Get fetches the row for role.
func (s *PGStore) Get(ctx context.Context, role RoleName) (PermissionSet, error) {
	if !role.Valid() {
		return PermissionSet{}, ErrUnknownRole
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var set PermissionSet
	err := s.db.QueryRow(ctx, selectPermissionsSQL, string(role)).Scan(
		&set.UserManagement,
		&set.PaymentProcessing,
		&set.SystemSettings,
		&set.AnalyticsReports,
		&set.BillingInvoices,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionSet{}, nil
		}
		return PermissionSet{}, &PersistenceError{Op: "read", Role: role, Err: err}
	}
	return set, nil
}

// Save upserts the row for role.
func (s *PGStore) Save(ctx context.Context, role RoleName, set PermissionSet) error {
	if !role.Valid() {
		return ErrUnknownRole
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, upsertPermissionsSQL,
		string(role),
		set.UserManagement,
		set.PaymentProcessing,
		set.SystemSettings,
		set.AnalyticsReports,
		set.BillingInvoices,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			err = fmt.Errorf("%s (sqlstate %s)", pgErr.Message, pgErr.Code)
		}
		return &PersistenceError{Op: "write", Role: role, Err: err}
	}
	if tag.RowsAffected() != 1 {
		return &PersistenceError{Op: "write", Role: role, Err: fmt.Errorf("upsert affected %d rows", tag.RowsAffected())}
	}
	return nil
}

var _ Store = (*PGStore)(nil)
