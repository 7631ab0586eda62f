package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/novafarm/console/internal/shared"
	"github.com/novafarm/console/internal/view"
)

var sectionDescriptions = map[string]string{
	"users":             "Pharmacy accounts and their team members.",
	"payments":          "Subscription payments and refunds.",
	"invoices":          "Issued invoices and billing history.",
	"accounts":          "Tenant analytics and account reports.",
	"settings":          "Console-wide configuration.",
	"subscription_plan": "Plans offered to pharmacies.",
	"email":             "Outgoing email templates.",
}

// Handler serves the console pages: dashboard, section placeholders, the
// roles overview and the permission editor.
type Handler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	workbench *Workbench
	templates *view.Engine
	csrf      *shared.CSRFManager
	activity  shared.ActivityRecorder
	guard     Middleware
	sections  map[string]http.HandlerFunc
}

// NewHandler constructs a Handler. activity may be nil.
func NewHandler(logger *slog.Logger, evaluator *Evaluator, workbench *Workbench, templates *view.Engine, csrf *shared.CSRFManager, activity shared.ActivityRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		evaluator: evaluator,
		workbench: workbench,
		templates: templates,
		csrf:      csrf,
		activity:  activity,
		guard:     Middleware{Evaluator: evaluator, Logger: logger},
		sections:  make(map[string]http.HandlerFunc),
	}
}

// Section replaces the placeholder page of navigation item id with fn. The
// item's capability gate still applies. Call before MountRoutes.
func (h *Handler) Section(id string, fn http.HandlerFunc) {
	h.sections[id] = fn
}

// MountRoutes registers the console routes. Mount under /console.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.guard.RequireAuthenticated)
	r.Get("/", h.showDashboard)
	for _, item := range NavigationSuperset() {
		if item.ID == "dashboard" || item.ID == "roles" {
			continue
		}
		path := strings.TrimPrefix(item.Path, "/console")
		page, ok := h.sections[item.ID]
		if !ok {
			page = h.showSection(item)
		}
		if item.Gated() {
			r.With(h.guard.RequireCapability(item.Requires)).Get(path, page)
			continue
		}
		r.Get(path, page)
	}
	r.Get("/roles", h.showRoles)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(RoleSuperAdmin))
		r.Get("/roles/{role}/permissions", h.showEditor)
		r.Post("/roles/{role}/permissions", h.handleSave)
		r.Post("/roles/{role}/permissions/toggle", h.handleToggle)
		r.Post("/roles/{role}/permissions/cancel", h.handleCancel)
	})
}

type sectionPageData struct {
	Description string
}

type roleRow struct {
	Name        RoleName
	Label       string
	Description string
	Granted     []string
	AllAccess   bool
	Unavailable bool
	Editable    bool
}

type rolesPageData struct {
	Rows    []roleRow
	CanEdit bool
}

type capabilityField struct {
	Key     Capability
	Label   string
	Checked bool
}

type editorPageData struct {
	Role        RoleName
	RoleLabel   string
	Description string
	Fields    []capabilityField
	Error     string
	Saving    bool
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	h.RenderPage(w, r, http.StatusOK, "pages/dashboard.html", "Dashboard", nil)
}

func (h *Handler) showSection(item NavItem) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.RenderPage(w, r, http.StatusOK, "pages/section.html", item.Label, sectionPageData{Description: sectionDescriptions[item.ID]})
	}
}

func (h *Handler) showRoles(w http.ResponseWriter, r *http.Request) {
	actor := SessionFromContext(r.Context())
	data := rolesPageData{CanEdit: actor.IsSuperAdmin()}
	for _, role := range ListRoles() {
		row := roleRow{
			Name:        role.Name,
			Label:       role.Label(),
			Description: role.Description,
			Editable:    editableRole(role.Name),
		}
		if role.Name == RoleSuperAdmin {
			row.AllAccess = true
		} else if set, err := h.evaluator.Permissions(r.Context(), role.Name); err != nil {
			h.logger.Warn("roles overview", slog.String("role", string(role.Name)), slog.Any("error", err))
			row.Unavailable = true
		} else {
			for _, c := range set.Granted() {
				row.Granted = append(row.Granted, c.Label())
			}
		}
		data.Rows = append(data.Rows, row)
	}
	h.RenderPage(w, r, http.StatusOK, "pages/roles.html", "User Roles", data)
}

func (h *Handler) showEditor(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleParam(w, r)
	if !ok {
		return
	}
	editor := h.workbench.Editor(h.editorKey(r))
	snap := editor.Snapshot()
	switch {
	case snap.State == StateSaving:
		h.renderEditor(w, r, http.StatusOK, snap, "")
		return
	case snap.Retained(role):
		h.renderEditor(w, r, http.StatusOK, snap, errorMessage(snap.LastErr))
		return
	}
	if _, err := editor.Open(r.Context(), role); err != nil {
		h.logger.Error("open permission editor", slog.String("role", string(role)), slog.Any("error", err))
		h.redirectWithFlash(w, r, "/console/roles", "error", "Permissions for that role could not be loaded. Please try again.")
		return
	}
	h.renderEditor(w, r, http.StatusOK, editor.Snapshot(), "")
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	set, err := parseCapabilities(r.PostForm["capabilities"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	editor, ok := h.openFor(w, r, role)
	if !ok {
		return
	}
	if err := editor.Replace(set); err != nil {
		h.renderEditor(w, r, statusFor(err), editor.Snapshot(), errorMessage(err))
		return
	}
	if err := editor.Commit(r.Context()); err != nil {
		h.logger.Warn("save permissions", slog.String("role", string(role)), slog.Any("error", err))
		h.renderEditor(w, r, statusFor(err), editor.Snapshot(), errorMessage(err))
		return
	}

	h.recordChange(r, role, set)
	h.workbench.Release(h.editorKey(r))
	h.redirectWithFlash(w, r, "/console/roles", "success", "Permissions for "+role.Label()+" saved.")
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleParam(w, r)
	if !ok {
		return
	}
	c, known := ParseCapability(r.PostFormValue("capability"))
	if !known {
		http.Error(w, "unknown capability", http.StatusBadRequest)
		return
	}
	editor, ok := h.openFor(w, r, role)
	if !ok {
		return
	}
	if _, err := editor.Toggle(c); err != nil {
		h.renderEditor(w, r, statusFor(err), editor.Snapshot(), errorMessage(err))
		return
	}
	http.Redirect(w, r, "/console/roles/"+string(role)+"/permissions", http.StatusSeeOther)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.roleParam(w, r); !ok {
		return
	}
	editor := h.workbench.Editor(h.editorKey(r))
	if err := editor.Cancel(); err != nil {
		h.renderEditor(w, r, statusFor(err), editor.Snapshot(), errorMessage(err))
		return
	}
	h.workbench.Release(h.editorKey(r))
	http.Redirect(w, r, "/console/roles", http.StatusSeeOther)
}

// openFor returns the session's editor positioned on role. Unsaved changes to
// role are kept; otherwise the stored set is loaded again.
func (h *Handler) openFor(w http.ResponseWriter, r *http.Request, role RoleName) (*Editor, bool) {
	editor := h.workbench.Editor(h.editorKey(r))
	snap := editor.Snapshot()
	if snap.State == StateSaving {
		h.renderEditor(w, r, http.StatusConflict, snap, errorMessage(ErrCommitInProgress))
		return nil, false
	}
	if snap.Retained(role) {
		return editor, true
	}
	if _, err := editor.Open(r.Context(), role); err != nil {
		h.logger.Error("open permission editor", slog.String("role", string(role)), slog.Any("error", err))
		h.redirectWithFlash(w, r, "/console/roles", "error", "Permissions for that role could not be loaded. Please try again.")
		return nil, false
	}
	return editor, true
}

func (h *Handler) roleParam(w http.ResponseWriter, r *http.Request) (RoleName, bool) {
	role, ok := ParseRole(chi.URLParam(r, "role"))
	if !ok || !editableRole(role) {
		http.NotFound(w, r)
		return "", false
	}
	return role, true
}

func (h *Handler) editorKey(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.ID
	}
	return "user:" + SessionFromContext(r.Context()).UserID
}

func (h *Handler) recordChange(r *http.Request, role RoleName, set PermissionSet) {
	if h.activity == nil {
		return
	}
	granted := make([]string, 0, len(Capabilities()))
	for _, c := range set.Granted() {
		granted = append(granted, string(c))
	}
	actor := SessionFromContext(r.Context())
	err := h.activity.Record(r.Context(), shared.ActivityEntry{
		UserID:     actor.UserID,
		ActionType: shared.ActionPermissionsUpdated,
		Location:   r.URL.Path,
		Risk:       shared.RiskHigh,
		Meta:       map[string]any{"role": string(role), "granted": granted},
	})
	if err != nil {
		h.logger.Warn("record permission change", slog.String("role", string(role)), slog.Any("error", err))
	}
}

func (h *Handler) renderEditor(w http.ResponseWriter, r *http.Request, status int, snap EditorSnapshot, message string) {
	data := editorPageData{
		Role:      snap.Role,
		RoleLabel: snap.Role.Label(),
		Error:     message,
		Saving:    snap.State == StateSaving,
	}
	if role, ok := LookupRole(snap.Role); ok {
		data.Description = role.Description
	}
	for _, c := range Capabilities() {
		data.Fields = append(data.Fields, capabilityField{Key: c, Label: c.Label(), Checked: snap.Draft.Has(c)})
	}
	h.RenderPage(w, r, status, "pages/role_permissions.html", "Edit permissions", data)
}

// RenderPage renders a console page with the operator's navigation, the
// pending flash and a CSRF token.
func (h *Handler) RenderPage(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	actor := SessionFromContext(r.Context())
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Nav:         h.navLinks(r, actor),
		Data:        data,
	}
	if actor.Authenticated {
		viewData.Operator = &view.Operator{UserID: actor.UserID, Role: string(actor.Role), RoleLabel: actor.Role.Label()}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render", slog.String("template", name), slog.Any("error", err))
	}
}

func (h *Handler) navLinks(r *http.Request, actor Session) []view.NavLink {
	if !actor.Authenticated {
		return nil
	}
	items := h.evaluator.Navigation(r.Context(), actor.Role)
	links := make([]view.NavLink, 0, len(items))
	for _, item := range items {
		links = append(links, view.NavLink{
			ID:     item.ID,
			Label:  item.Label,
			Path:   item.Path,
			Active: isActive(item.Path, r.URL.Path),
		})
	}
	return links
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func isActive(itemPath, current string) bool {
	if itemPath == current {
		return true
	}
	return itemPath != "/console" && strings.HasPrefix(current, itemPath+"/")
}

// editableRole excludes super-admin, whose access never reads its row.
func editableRole(role RoleName) bool {
	return role.Valid() && role != RoleSuperAdmin
}

func parseCapabilities(raw []string) (PermissionSet, error) {
	var set PermissionSet
	for _, value := range raw {
		c, ok := ParseCapability(value)
		if !ok {
			return PermissionSet{}, errors.New("unknown capability " + value)
		}
		set = set.With(c, true)
	}
	return set, nil
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrCommitInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotEditing), errors.Is(err, ErrUnknownRole):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCommitInProgress):
		return "A save is already in progress for this session."
	case errors.Is(err, ErrPersistence):
		return "Permissions could not be saved. Your changes are kept; please try again."
	case errors.Is(err, ErrNotEditing):
		return "Open a role before changing its permissions."
	}
	return "Something went wrong. Please try again."
}
