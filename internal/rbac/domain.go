package rbac

import (
	"strings"
)

// RoleName identifies a class of console operator.
type RoleName string

// Canonical role identifiers. Lookups, menu gating and user filters all use these
// spellings; nothing else is accepted.
const (
	RoleSuperAdmin RoleName = "super-admin"
	RoleAdmin      RoleName = "admin"
	RoleStaff      RoleName = "staff"
	RoleBilling    RoleName = "billing"
	RoleUser       RoleName = "user"
)

// ParseRole normalises raw input into a known RoleName.
func ParseRole(raw string) (RoleName, bool) {
	role := RoleName(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleStaff, RoleBilling, RoleUser:
		return role, true
	}
	return "", false
}

// Valid reports whether the role belongs to the registry.
func (r RoleName) Valid() bool {
	parsed, ok := ParseRole(string(r))
	return ok && parsed == r
}

// Capability is a single named permission flag.
type Capability string

const (
	CapUserManagement    Capability = "user_management"
	CapPaymentProcessing Capability = "payment_processing"
	CapSystemSettings    Capability = "system_settings"
	CapAnalyticsReports  Capability = "analytics_reports"
	CapBillingInvoices   Capability = "billing_invoices"
)

// Capabilities returns every capability in column order.
func Capabilities() []Capability {
	return []Capability{
		CapUserManagement,
		CapPaymentProcessing,
		CapSystemSettings,
		CapAnalyticsReports,
		CapBillingInvoices,
	}
}

// ParseCapability maps a form or JSON key onto a Capability.
func ParseCapability(raw string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Capabilities() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Label returns the operator-facing name of the capability.
func (c Capability) Label() string {
	switch c {
	case CapUserManagement:
		return "User Management"
	case CapPaymentProcessing:
		return "Payment Processing"
	case CapSystemSettings:
		return "System Settings"
	case CapAnalyticsReports:
		return "Analytics & Reports"
	case CapBillingInvoices:
		return "Billing & Invoices"
	}
	return string(c)
}

// PermissionSet holds the capability flags of one role. The zero value denies
// everything.
type PermissionSet struct {
	UserManagement    bool `json:"user_management"`
	PaymentProcessing bool `json:"payment_processing"`
	SystemSettings    bool `json:"system_settings"`
	AnalyticsReports  bool `json:"analytics_reports"`
	BillingInvoices   bool `json:"billing_invoices"`
}

// Has reports the flag for c. Unknown capabilities are denied.
func (p PermissionSet) Has(c Capability) bool {
	switch c {
	case CapUserManagement:
		return p.UserManagement
	case CapPaymentProcessing:
		return p.PaymentProcessing
	case CapSystemSettings:
		return p.SystemSettings
	case CapAnalyticsReports:
		return p.AnalyticsReports
	case CapBillingInvoices:
		return p.BillingInvoices
	}
	return false
}

// With returns a copy with the flag for c set to granted.
func (p PermissionSet) With(c Capability, granted bool) PermissionSet {
	switch c {
	case CapUserManagement:
		p.UserManagement = granted
	case CapPaymentProcessing:
		p.PaymentProcessing = granted
	case CapSystemSettings:
		p.SystemSettings = granted
	case CapAnalyticsReports:
		p.AnalyticsReports = granted
	case CapBillingInvoices:
		p.BillingInvoices = granted
	}
	return p
}

// Toggle flips exactly one flag and leaves the rest untouched.
func (p PermissionSet) Toggle(c Capability) PermissionSet {
	return p.With(c, !p.Has(c))
}

// Granted lists the capabilities set to true, in column order.
func (p PermissionSet) Granted() []Capability {
	var out []Capability
	for _, c := range Capabilities() {
		if p.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// PermissionSetOf builds a set granting exactly the given capabilities.
func PermissionSetOf(caps ...Capability) PermissionSet {
	var set PermissionSet
	for _, c := range caps {
		set = set.With(c, true)
	}
	return set
}

// Session is the acting operator's resolved identity for one request.
type Session struct {
	UserID        string
	Role          RoleName
	Authenticated bool
}

// Unauthenticated is the lowest-privilege session.
var Unauthenticated = Session{}

// IsSuperAdmin reports whether the session bypasses capability checks.
func (s Session) IsSuperAdmin() bool {
	return s.Authenticated && s.Role == RoleSuperAdmin
}
