package httpapi

import (
	"net/http"
	"time"

	"qazna.org/superadmin/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userView struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
	LastLoginAt *time.Time        `json:"last_login_at"`
}

type loginResponse struct {
	User      userView  `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newUserView(acct auth.Account, perms auth.PermissionSet) userView {
	return userView{
		ID:          acct.ID,
		Email:       acct.Email,
		Name:        acct.Name,
		Role:        acct.Role,
		Permissions: perms.Sorted(),
		LastLoginAt: acct.LastLoginAt,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.setSessionCookie(w, res.Token, res.Session.ExpiresAt.Sub(res.Session.IssuedAt))
	writeJSON(w, http.StatusOK, loginResponse{
		User:      newUserView(res.Account, res.Session.Permissions),
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// handleLogout always succeeds and clears the cookie. A valid session is audited.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, err := sessionToken(r); err == nil {
		if sess, err := a.tokens.Verify(token); err == nil {
			a.svc.Logout(r.Context(), sess)
		}
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	me, err := a.svc.Me(r.Context(), sess)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(me.Account, me.Permissions))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, _ := auth.SessionFromContext(r.Context())
	if err := a.svc.ChangePassword(r.Context(), sess, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}
