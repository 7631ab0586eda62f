package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/novafarm/console/internal/rbac"
	"github.com/novafarm/console/internal/shared"
)

// PageRenderer renders a console page with navigation and flash handling.
type PageRenderer interface {
	RenderPage(w http.ResponseWriter, r *http.Request, status int, name, title string, data any)
}

// Handler serves the Users section.
type Handler struct {
	logger  *slog.Logger
	service *Service
	pages   PageRenderer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pages PageRenderer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, pages: pages}
}

type memberRow struct {
	Member
	RoleLabel string
}

type listPageData struct {
	Members []memberRow
	Query   string
	Role    string
	Roles   []rbac.Role
	Error   string
}

// List renders the member table. Access is checked by the console router.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Query: r.URL.Query().Get("q"), Role: r.URL.Query().Get("role")}
	data := listPageData{Query: filter.Query, Role: filter.Role, Roles: rbac.ListRoles()}

	members, err := h.service.ListMembers(r.Context(), filter)
	if errors.Is(err, ErrUnknownRoleFilter) {
		data.Error = "Unknown role filter. Choose a role from the list."
		h.pages.RenderPage(w, r, http.StatusBadRequest, "pages/users.html", "Users", data)
		return
	}
	if err != nil {
		h.logger.Error("list members failed", slog.Any("error", err))
		data.Error = shared.UserSafeMessage(err)
		h.pages.RenderPage(w, r, http.StatusInternalServerError, "pages/users.html", "Users", data)
		return
	}
	for _, m := range members {
		row := memberRow{Member: m, RoleLabel: "No role"}
		if role, ok := rbac.ParseRole(m.Role); ok {
			row.RoleLabel = role.Label()
		}
		data.Members = append(data.Members, row)
	}
	h.pages.RenderPage(w, r, http.StatusOK, "pages/users.html", "Users", data)
}
