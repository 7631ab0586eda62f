package rbac

import "context"

// NavItem is one entry of the console menu. Items without Requires are always
// shown.
type NavItem struct {
	ID       string
	Label    string
	Path     string
	Requires Capability
}

// Gated reports whether the item needs a capability.
func (n NavItem) Gated() bool { return n.Requires != "" }

var navigation = []NavItem{
	{ID: "dashboard", Label: "Dashboard", Path: "/console"},
	{ID: "users", Label: "Users", Path: "/console/users", Requires: CapUserManagement},
	{ID: "payments", Label: "Payments", Path: "/console/payments", Requires: CapPaymentProcessing},
	{ID: "invoices", Label: "Invoices", Path: "/console/invoices", Requires: CapBillingInvoices},
	{ID: "accounts", Label: "Accounts", Path: "/console/accounts", Requires: CapAnalyticsReports},
	{ID: "settings", Label: "Settings", Path: "/console/settings", Requires: CapSystemSettings},
	{ID: "roles", Label: "User Roles", Path: "/console/roles"},
	{ID: "subscription_plan", Label: "Subscription Plan", Path: "/console/subscription-plan"},
	{ID: "email", Label: "Email", Path: "/console/email"},
}

// NavigationSuperset returns every possible menu item in declaration order.
func NavigationSuperset() []NavItem {
	out := make([]NavItem, len(navigation))
	copy(out, navigation)
	return out
}

// Navigation returns the menu visible to role. Order never depends on the
// permission set. The set is read once per call.
func (e *Evaluator) Navigation(ctx context.Context, role RoleName) []NavItem {
	var set PermissionSet
	switch {
	case role == RoleSuperAdmin:
		return NavigationSuperset()
	case role.Valid():
		loaded, err := e.Permissions(ctx, role)
		if err != nil {
			e.logDenied(role, err)
		} else {
			set = loaded
		}
	}
	items := make([]NavItem, 0, len(navigation))
	for _, item := range navigation {
		if !item.Gated() || set.Has(item.Requires) {
			items = append(items, item)
		}
	}
	return items
}
