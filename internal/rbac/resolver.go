package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/novafarm/console/internal/shared"
)

// RoleSessionKey is the session key the login flow writes the role token to.
const RoleSessionKey = "role"

// Resolver turns the stored role token into a Session. It never calls the
// database; the token is trusted until the next login.
type Resolver struct {
	Logger *slog.Logger
}

// Resolve reads the role token from sess.
func (res Resolver) Resolve(sess *shared.Session) Session {
	if sess == nil {
		return Unauthenticated
	}
	raw := sess.Get(RoleSessionKey)
	if strings.TrimSpace(raw) == "" {
		return Unauthenticated
	}
	role, ok := ParseRole(raw)
	if !ok {
		if res.Logger != nil {
			res.Logger.Warn("rbac unrecognised role token", slog.String("value", raw))
		}
		return Unauthenticated
	}
	return Session{UserID: sess.User(), Role: role, Authenticated: true}
}

// Middleware resolves the role once per request and stores it in the context.
func (res Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := res.Resolve(shared.SessionFromContext(r.Context()))
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), actor)))
	})
}

type sessionContextKey struct{}

// ContextWithSession stores the resolved session in ctx.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the resolved session, or Unauthenticated.
func SessionFromContext(ctx context.Context) Session {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok {
		return Unauthenticated
	}
	return s
}
