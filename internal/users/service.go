package users

import (
	"context"
	"fmt"

	"github.com/novafarm/console/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListMembers(ctx context.Context, filter ListFilter) ([]Member, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListMembers returns accounts matching filter. An unrecognised role filter
// is rejected rather than matching nothing.
func (s *Service) ListMembers(ctx context.Context, filter ListFilter) ([]Member, error) {
	if filter.Role != "" {
		role, ok := rbac.ParseRole(filter.Role)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownRoleFilter, filter.Role)
		}
		filter.Role = string(role)
	}
	return s.repo.ListMembers(ctx, filter)
}
