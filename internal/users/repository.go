package users

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

const defaultLimit = 100

// likeEscaper makes the free-text query match literally inside ILIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db querier
}

// NewRepository constructs a repository. *pgxpool.Pool satisfies db.
func NewRepository(db querier) *Repository {
	return &Repository{db: db}
}

const listMembersSQL = `SELECT u.id::text, u.email, COALESCE(u.username, ''), COALESCE(tm.role, ''), u.is_active, u.created_at
FROM users u
LEFT JOIN team_mate tm ON tm.user_id = u.id
WHERE ($1 = '' OR u.email ILIKE '%' || $1 || '%' ESCAPE '\' OR u.username ILIKE '%' || $1 || '%' ESCAPE '\')
  AND ($2 = '' OR tm.role = $2)
ORDER BY u.created_at DESC
LIMIT $3`

// ListMembers returns accounts matching filter, newest first.
func (r *Repository) ListMembers(ctx context.Context, filter ListFilter) ([]Member, error) {
	limit := filter.Limit
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	rows, err := r.db.Query(ctx, listMembersSQL, likeEscaper.Replace(strings.TrimSpace(filter.Query)), filter.Role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Email, &m.Username, &m.Role, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}
