package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/novafarm/console/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Operator, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db querier
}

// NewRepository constructs a PostgreSQL repository. *pgxpool.Pool satisfies db.
func NewRepository(db querier) *PGRepository {
	return &PGRepository{db: db}
}

const findOperatorByEmail = `SELECT u.id::text, u.email, COALESCE(u.username, ''), u.password_hash, u.is_active, COALESCE(tm.role, '')
FROM users u
LEFT JOIN team_mate tm ON tm.user_id = u.id
WHERE lower(u.email) = lower($1)
LIMIT 1`

// FindByEmail fetches an operator by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Operator, error) {
	var op Operator
	err := r.db.QueryRow(ctx, findOperatorByEmail, email).Scan(
		&op.ID, &op.Email, &op.Username, &op.PasswordHash, &op.IsActive, &op.Role,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

var _ Repository = (*PGRepository)(nil)
