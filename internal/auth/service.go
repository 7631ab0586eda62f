package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/novafarm/console/internal/rbac"
	"github.com/novafarm/console/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates credentials and resolves the operator's console
// role. Tenant accounts (role "user") and accounts without a recognised role
// fail with ErrConsoleAccessDenied.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Operator, rbac.RoleName, error) {
	op, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, "", shared.ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !op.IsActive {
		return nil, "", shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, "", shared.ErrInvalidCredentials
	}
	role, ok := rbac.ParseRole(op.Role)
	if !ok || role == rbac.RoleUser {
		return op, "", shared.ErrConsoleAccessDenied
	}
	return op, role, nil
}
