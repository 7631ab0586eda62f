package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/novafarm/console/internal/platform/httpx"
	"github.com/novafarm/console/internal/shared"
)

// APIHandler exposes roles and permission sets as JSON.
type APIHandler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	workbench *Workbench
	activity  shared.ActivityRecorder
	validator *validator.Validate
	guard     Middleware
}

// NewAPIHandler constructs an APIHandler. activity may be nil.
func NewAPIHandler(logger *slog.Logger, evaluator *Evaluator, workbench *Workbench, activity shared.ActivityRecorder) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		logger:    logger,
		evaluator: evaluator,
		workbench: workbench,
		activity:  activity,
		validator: validator.New(),
		guard:     Middleware{Evaluator: evaluator, Logger: logger},
	}
}

// MountRoutes registers the API routes. Mount under /api.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Use(h.guard.RequireRoleAPI())
	r.Get("/roles", h.listRoles)
	r.Get("/roles/{role}/permissions", h.getPermissions)
	r.With(h.guard.RequireRoleAPI(RoleSuperAdmin)).Put("/roles/{role}/permissions", h.putPermissions)
}

type roleResponse struct {
	Name        RoleName       `json:"name"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	AllAccess   bool           `json:"all_access"`
	Permissions *PermissionSet `json:"permissions,omitempty"`
}

type permissionsResponse struct {
	Role        RoleName      `json:"role"`
	Permissions PermissionSet `json:"permissions"`
}

// permissionsRequest requires every flag so a partial body cannot silently
// revoke capabilities.
type permissionsRequest struct {
	UserManagement    *bool `json:"user_management" validate:"required"`
	PaymentProcessing *bool `json:"payment_processing" validate:"required"`
	SystemSettings    *bool `json:"system_settings" validate:"required"`
	AnalyticsReports  *bool `json:"analytics_reports" validate:"required"`
	BillingInvoices   *bool `json:"billing_invoices" validate:"required"`
}

func (p permissionsRequest) set() PermissionSet {
	return PermissionSet{
		UserManagement:    *p.UserManagement,
		PaymentProcessing: *p.PaymentProcessing,
		SystemSettings:    *p.SystemSettings,
		AnalyticsReports:  *p.AnalyticsReports,
		BillingInvoices:   *p.BillingInvoices,
	}
}

func (h *APIHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := ListRoles()
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		item := roleResponse{Name: role.Name, Label: role.Label(), Description: role.Description}
		if role.Name == RoleSuperAdmin {
			item.AllAccess = true
		} else if set, err := h.evaluator.Permissions(r.Context(), role.Name); err == nil {
			item.Permissions = &set
		} else {
			h.logger.Warn("api list roles", slog.String("role", string(role.Name)), slog.Any("error", err))
		}
		out = append(out, item)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *APIHandler) getPermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := ParseRole(chi.URLParam(r, "role"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: unknown role", httpx.ErrNotFound))
		return
	}
	set, err := h.evaluator.Permissions(r.Context(), role)
	if err != nil {
		httpx.RespondError(w, apiError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Role: role, Permissions: set})
}

func (h *APIHandler) putPermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := ParseRole(chi.URLParam(r, "role"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: unknown role", httpx.ErrNotFound))
		return
	}
	if !editableRole(role) {
		httpx.RespondError(w, fmt.Errorf("%w: %s permissions are fixed", httpx.ErrValidation, role))
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	actor := SessionFromContext(r.Context())
	key := "api:" + actor.UserID
	editor := h.workbench.Editor(key)
	if _, err := editor.Open(r.Context(), role); err != nil {
		httpx.RespondError(w, apiError(err))
		return
	}
	set := req.set()
	if err := editor.Replace(set); err != nil {
		httpx.RespondError(w, apiError(err))
		return
	}
	if err := editor.Commit(r.Context()); err != nil {
		h.logger.Warn("api save permissions", slog.String("role", string(role)), slog.Any("error", err))
		httpx.RespondError(w, apiError(err))
		return
	}
	h.workbench.Release(key)

	if h.activity != nil {
		entry := shared.ActivityEntry{
			UserID:     actor.UserID,
			ActionType: shared.ActionPermissionsUpdated,
			Location:   r.URL.Path,
			Risk:       shared.RiskHigh,
			Meta:       map[string]any{"role": string(role), "permissions": set},
		}
		if err := h.activity.Record(r.Context(), entry); err != nil {
			h.logger.Warn("record permission change", slog.String("role", string(role)), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Role: role, Permissions: set})
}

func apiError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownRole):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrCommitInProgress):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ErrPersistence):
		return fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	case errors.Is(err, ErrNotEditing):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	}
	return err
}
