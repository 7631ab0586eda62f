package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role describes a registered role.
type Role struct {
	Name        RoleName
	Description string
}

var registry = []Role{
	{Name: RoleSuperAdmin, Description: "Unrestricted access to the whole console"},
	{Name: RoleAdmin, Description: "Full system access"},
	{Name: RoleStaff, Description: "View clients, no payment actions"},
	{Name: RoleBilling, Description: "Manage invoices only"},
	{Name: RoleUser, Description: "Tenant account holder"},
}

// ListRoles returns the registered roles in declaration order.
func ListRoles() []Role {
	out := make([]Role, len(registry))
	copy(out, registry)
	return out
}

// LookupRole returns the registry entry for name.
func LookupRole(name RoleName) (Role, bool) {
	for _, role := range registry {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

// Label renders the role name for display, e.g. "Super Admin".
func (r Role) Label() string {
	return r.Name.Label()
}

// Label renders the role name for display.
func (r RoleName) Label() string {
	if r == RoleStaff {
		return "Support Staff"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(r), "-", " "))
}
