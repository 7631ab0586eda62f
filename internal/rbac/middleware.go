package rbac

import (
	"log/slog"
	"net/http"

	"github.com/novafarm/console/internal/platform/httpx"
	"github.com/novafarm/console/internal/shared"
)

const (
	defaultLoginPath = "/auth/login"
	defaultHomePath  = "/console"
)

// Middleware admits or redirects console requests using the Evaluator.
// Expects Resolver.Middleware earlier in the chain.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
	LoginPath string
	HomePath  string
}

// RequireAuthenticated sends sessions without a role token to the login page.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !SessionFromContext(r.Context()).Authenticated {
			m.redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability admits the request when the session holds c. Denied
// requests are redirected to the dashboard instead of rendering the page.
func (m Middleware) RequireCapability(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := SessionFromContext(r.Context())
			if !actor.Authenticated {
				m.redirectToLogin(w, r)
				return
			}
			if !m.Evaluator.CanSession(r.Context(), actor, c) {
				m.deny(w, r, actor, string(c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits only the listed roles.
func (m Middleware) RequireRole(roles ...RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := SessionFromContext(r.Context())
			if !actor.Authenticated {
				m.redirectToLogin(w, r)
				return
			}
			if !hasRole(actor, roles) {
				m.deny(w, r, actor, "role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleAPI is RequireRole for JSON endpoints: 401/403 problem documents
// instead of redirects.
func (m Middleware) RequireRoleAPI(roles ...RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := SessionFromContext(r.Context())
			if !actor.Authenticated {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if len(roles) > 0 && !hasRole(actor, roles) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(actor Session, roles []RoleName) bool {
	for _, role := range roles {
		if actor.Role == role {
			return true
		}
	}
	return false
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, actor Session, what string) {
	if m.Logger != nil {
		m.Logger.Info("rbac denied",
			slog.String("role", string(actor.Role)),
			slog.String("requires", what),
			slog.String("path", r.URL.Path))
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "You do not have access to that page"})
	}
	home := m.HomePath
	if home == "" {
		home = defaultHomePath
	}
	http.Redirect(w, r, home, http.StatusSeeOther)
}

func (m Middleware) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	login := m.LoginPath
	if login == "" {
		login = defaultLoginPath
	}
	http.Redirect(w, r, login, http.StatusSeeOther)
}
