package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"qazna.org/superadmin/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// SessionCookie carries the signed session token.
	SessionCookie = "superadmin_session"
)

var errNoToken = errors.New("missing session token")

// withSession verifies the session token and stores the session in the context.
func (a *API) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}
		sess, err := a.tokens.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}
		ctx := auth.ContextWithSession(r.Context(), sess)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx))
	}
}

// requirePermission admits sessions holding at least one of perms.
func (a *API) requirePermission(perms []auth.Permission, next http.HandlerFunc) http.HandlerFunc {
	return a.withSession(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := auth.SessionFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if !sess.HasAny(perms...) {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

// sessionToken prefers an explicit Authorization header over the cookie.
func sessionToken(r *http.Request) (string, error) {
	if header := r.Header.Get(authHeader); header != "" {
		return extractBearerToken(header)
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", errNoToken
	}
	return strings.TrimSpace(c.Value), nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, a.cookie(token, int(ttl/time.Second)))
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, a.cookie("", -1))
}

// cookie is Secure with SameSite=None in production so the console can call the API
// cross-site over TLS; development uses Lax over plain HTTP.
func (a *API) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if a.opts.Production {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}
