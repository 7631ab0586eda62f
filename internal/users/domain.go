package users

import (
	"errors"
	"time"
)

// ErrUnknownRoleFilter rejects a role filter outside the registry.
var ErrUnknownRoleFilter = errors.New("users: unknown role filter")

// Member is a console account together with its team_mate role.
type Member struct {
	ID        string
	Email     string
	Username  string
	Role      string
	IsActive  bool
	CreatedAt time.Time
}

// ListFilter narrows the member list.
type ListFilter struct {
	Query string
	Role  string
	Limit int
}
