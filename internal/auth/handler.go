package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/novafarm/console/internal/rbac"
	"github.com/novafarm/console/internal/shared"
	"github.com/novafarm/console/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	activity  shared.ActivityRecorder
	validator *validator.Validate
	homePath  string

	// loginLimit caps login attempts per client IP and minute.
	loginLimit int
}

// NewHandler constructs a Handler instance. activity may be nil.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, activity shared.ActivityRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		templates:  templates,
		sessions:   sessions,
		csrf:       csrf,
		activity:   activity,
		validator:  validator.New(),
		homePath:   "/console",
		loginLimit: 10,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(httprate.LimitByIP(h.loginLimit, time.Minute)).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if rbac.SessionFromContext(r.Context()).Authenticated {
		http.Redirect(w, r, h.homePath, http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	fieldErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fieldErrors[fieldErr.Field()] = fieldErr.Error()
			}
		}
	}
	if len(fieldErrors) > 0 {
		h.renderLogin(w, r, http.StatusBadRequest, loginPageData{Form: loginForm{Email: form.Email}, Errors: fieldErrors})
		return
	}

	op, role, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		status := http.StatusBadRequest
		entry := shared.ActivityEntry{Email: form.Email, ActionType: shared.ActionLoginFailed, Location: r.URL.Path, Risk: shared.RiskMedium}
		switch {
		case errors.Is(err, shared.ErrConsoleAccessDenied):
			status = http.StatusForbidden
			entry.UserID = op.ID
			entry.Username = op.Username
			entry.Risk = shared.RiskHigh
		case !errors.Is(err, shared.ErrInvalidCredentials):
			h.logger.Error("authenticate", slog.Any("error", err))
			err = errors.New("unavailable")
			status = http.StatusServiceUnavailable
		}
		h.record(r, entry)
		h.renderLogin(w, r, status, loginPageData{
			Form:   loginForm{Email: form.Email},
			Errors: map[string]string{"general": shared.UserSafeMessage(err)},
		})
		return
	}

	sess.Renew()
	sess.SetUser(op.ID)
	sess.Set(rbac.RoleSessionKey, string(role))
	sess.Delete(shared.CSRFSessionKey)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + role.Label()})
	h.record(r, shared.ActivityEntry{
		UserID:     op.ID,
		Username:   op.Username,
		Email:      op.Email,
		ActionType: shared.ActionLoginSuccess,
		Location:   r.URL.Path,
		Risk:       shared.RiskLow,
	})
	h.logger.Info("console login", slog.String("user_id", op.ID), slog.String("role", string(role)))
	http.Redirect(w, r, h.homePath, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	actor := rbac.SessionFromContext(r.Context())
	if actor.Authenticated {
		h.record(r, shared.ActivityEntry{UserID: actor.UserID, ActionType: shared.ActionLogout, Location: r.URL.Path, Risk: shared.RiskLow})
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessions.Destroy(sess)
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

// record never blocks the login flow on activity failures.
func (h *Handler) record(r *http.Request, entry shared.ActivityEntry) {
	if h.activity == nil {
		return
	}
	if err := h.activity.Record(r.Context(), entry); err != nil {
		h.logger.Warn("record activity", slog.String("action", entry.ActionType), slog.Any("error", err))
	}
}
