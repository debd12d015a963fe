package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"qazna.org/superadmin/internal/audit"
	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/obs"
	"qazna.org/superadmin/internal/ratelimit"
)

// Options tune the HTTP layer. Zero values disable the optional parts.
type Options struct {
	Version      string
	Production   bool
	MaxBodyBytes int64
	// Limiter throttles every request per client IP.
	Limiter ratelimit.Limiter
	// LoginLimiter throttles POST /auth/login per client IP.
	LoginLimiter ratelimit.Limiter
}

// API is the HTTP surface of the superadmin service.
type API struct {
	mux    *http.ServeMux
	svc    *auth.Service
	tokens *auth.TokenIssuer
	opts   Options
}

func New(svc *auth.Service, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:    http.NewServeMux(),
		svc:    svc,
		tokens: svc.Tokens(),
		opts:   opts,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	login := http.Handler(http.HandlerFunc(a.handleLogin))
	if opts.LoginLimiter != nil {
		login = RateLimit(login, opts.LoginLimiter)
	}
	a.mux.Handle("POST /auth/login", login)
	a.mux.HandleFunc("POST /auth/logout", a.handleLogout)
	a.mux.HandleFunc("GET /auth/me", a.withSession(a.handleMe))
	a.mux.HandleFunc("POST /auth/change-password", a.withSession(a.handleChangePassword))

	a.mux.HandleFunc("GET /v1/catalog", a.withSession(a.handleCatalog))

	view := []auth.Permission{auth.PermManageSuperadmins, auth.PermAccessMonitoring}
	manage := []auth.Permission{auth.PermManageSuperadmins}
	a.mux.HandleFunc("GET /v1/superadmins", a.requirePermission(view, a.handleListSuperadmins))
	a.mux.HandleFunc("POST /v1/superadmins", a.requirePermission(manage, a.handleCreateSuperadmin))
	a.mux.HandleFunc("GET /v1/superadmins/{id}", a.requirePermission(view, a.handleGetSuperadmin))
	a.mux.HandleFunc("PATCH /v1/superadmins/{id}", a.requirePermission(manage, a.handleUpdateSuperadmin))
	a.mux.HandleFunc("DELETE /v1/superadmins/{id}", a.requirePermission(manage, a.handleDeleteSuperadmin))
	a.mux.HandleFunc("POST /v1/superadmins/{id}/deactivate", a.requirePermission(manage, a.handleDeactivateSuperadmin))
	a.mux.HandleFunc("POST /v1/superadmins/{id}/unlock", a.requirePermission(manage, a.handleUnlockSuperadmin))
	a.mux.HandleFunc("POST /v1/superadmins/{id}/permissions", a.requirePermission(manage, a.handleGrantPermission))
	a.mux.HandleFunc("DELETE /v1/superadmins/{id}/permissions/{permission}", a.requirePermission(manage, a.handleRevokePermission))
	a.mux.HandleFunc("GET /v1/audit-logs", a.requirePermission(view, a.handleAuditLogs))

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	if a.opts.Limiter != nil {
		h = RateLimit(h, a.opts.Limiter)
	}
	h = CORS(h, !a.opts.Production)
	h = SecurityHeaders(h, a.opts.Production)
	h = Recover(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Ping(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type catalogRole struct {
	Name        auth.Role         `json:"name"`
	Permissions []auth.Permission `json:"permissions"`
}

type catalogPermission struct {
	Name        auth.Permission `json:"name"`
	Description string          `json:"description"`
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	roles := make([]catalogRole, 0, len(auth.Roles()))
	for _, role := range auth.Roles() {
		roles = append(roles, catalogRole{Name: role, Permissions: auth.DefaultPermissions(role).Sorted()})
	}
	perms := make([]catalogPermission, 0, len(auth.AllPermissions()))
	for _, p := range auth.AllPermissions() {
		perms = append(perms, catalogPermission{Name: p, Description: p.Description()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "permissions": perms})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorWith(w, r, code, msg, nil)
}

// writeErrorWith adds fields next to error and request_id.
func writeErrorWith(w http.ResponseWriter, r *http.Request, code int, msg string, fields map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// handleServiceError maps the auth error taxonomy onto status codes. Anything it
// does not recognize is logged and reported as a bare 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked  *auth.LockedError
		authErr *auth.AuthError
	)
	switch {
	case errors.As(err, &locked):
		writeErrorWith(w, r, http.StatusLocked, "account locked",
			map[string]any{"locked_until": locked.Until.UTC().Format(time.RFC3339)})
	case errors.As(err, &authErr):
		var fields map[string]any
		if authErr.AttemptsRemaining != nil {
			fields = map[string]any{"attempts_remaining": *authErr.AttemptsRemaining}
		}
		writeErrorWith(w, r, http.StatusUnauthorized, "invalid credentials", fields)
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().Error().Err(err).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, errors.New("limit must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return n, nil
}
