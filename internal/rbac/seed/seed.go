// Package seed reads the YAML file of default permission sets and console
// operators shared by the seed command and the in-memory permission backend.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/novafarm/console/internal/rbac"
)

type operatorDoc struct {
	Email    string `yaml:"email"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type document struct {
	Permissions map[string][]string `yaml:"permissions"`
	Operators   []operatorDoc       `yaml:"operators"`
}

// RoleSet is the default capability set of one role.
type RoleSet struct {
	Role rbac.RoleName
	Set  rbac.PermissionSet
}

// Operator is a console account to create with its team role.
type Operator struct {
	Email    string
	Username string
	Password string
	Role     rbac.RoleName
}

// Plan is a validated seed file.
type Plan struct {
	Roles     []RoleSet
	Operators []Operator
}

// Parse validates the YAML document. Roles come back in registry order so
// repeated runs issue the same statements.
func Parse(r io.Reader) (Plan, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return Plan{}, fmt.Errorf("decode seed: %w", err)
	}

	sets := make(map[rbac.RoleName]rbac.PermissionSet, len(doc.Permissions))
	for rawRole, rawCaps := range doc.Permissions {
		role, ok := rbac.ParseRole(rawRole)
		if !ok {
			return Plan{}, fmt.Errorf("unknown role %q", rawRole)
		}
		if role == rbac.RoleSuperAdmin {
			return Plan{}, fmt.Errorf("%s permissions are fixed and cannot be seeded", role)
		}
		var set rbac.PermissionSet
		for _, rawCap := range rawCaps {
			c, ok := rbac.ParseCapability(rawCap)
			if !ok {
				return Plan{}, fmt.Errorf("role %s: unknown capability %q", role, rawCap)
			}
			set = set.With(c, true)
		}
		sets[role] = set
	}

	var plan Plan
	for _, role := range rbac.ListRoles() {
		if set, ok := sets[role.Name]; ok {
			plan.Roles = append(plan.Roles, RoleSet{Role: role.Name, Set: set})
		}
	}
	for i, op := range doc.Operators {
		role, ok := rbac.ParseRole(op.Role)
		if !ok {
			return Plan{}, fmt.Errorf("operator %d: unknown role %q", i, op.Role)
		}
		if op.Email == "" || len(op.Password) < 8 {
			return Plan{}, fmt.Errorf("operator %d: email and a password of at least 8 characters are required", i)
		}
		plan.Operators = append(plan.Operators, Operator{Email: op.Email, Username: op.Username, Password: op.Password, Role: role})
	}
	return plan, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string) (Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return Plan{}, err
	}
	defer f.Close()
	plan, err := Parse(f)
	if err != nil {
		return Plan{}, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// SavePermissions writes every role set of plan to store.
func SavePermissions(ctx context.Context, store rbac.Store, plan Plan) error {
	for _, rs := range plan.Roles {
		if err := store.Save(ctx, rs.Role, rs.Set); err != nil {
			return fmt.Errorf("seed %s: %w", rs.Role, err)
		}
	}
	return nil
}
