package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/ids"
)

type createSuperadminRequest struct {
	Email             string   `json:"email"`
	Password          string   `json:"password"`
	Name              string   `json:"name"`
	Role              string   `json:"role"`
	CustomPermissions []string `json:"custom_permissions"`
}

type updateSuperadminRequest struct {
	Name              *string   `json:"name"`
	Role              *string   `json:"role"`
	CustomPermissions *[]string `json:"custom_permissions"`
	IsActive          *bool     `json:"is_active"`
	Password          *string   `json:"password"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

type superadminView struct {
	auth.Account
	Permissions []auth.Permission `json:"permissions"`
}

func newSuperadminView(s auth.Superadmin) superadminView {
	return superadminView{Account: s.Account, Permissions: s.Permissions.Sorted()}
}

// pathID returns the {id} segment, answering 404 for anything that is not an account id.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return "", false
	}
	return id, true
}

func actor(r *http.Request) auth.Session {
	sess, _ := auth.SessionFromContext(r.Context())
	return sess
}

func (a *API) handleListSuperadmins(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListSuperadmins(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	out := make([]superadminView, 0, len(list))
	for _, s := range list {
		out = append(out, newSuperadminView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"superadmins": out})
}

func (a *API) handleCreateSuperadmin(w http.ResponseWriter, r *http.Request) {
	var req createSuperadminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.CreateSuperadmin(r.Context(), actor(r), auth.NewSuperadmin{
		Email:             req.Email,
		Password:          req.Password,
		Name:              req.Name,
		Role:              req.Role,
		CustomPermissions: req.CustomPermissions,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/superadmins/%s", created.ID))
	writeJSON(w, http.StatusCreated, newSuperadminView(created))
}

func (a *API) handleGetSuperadmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := a.svc.GetSuperadmin(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSuperadminView(s))
}

func (a *API) handleUpdateSuperadmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateSuperadminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s, err := a.svc.UpdateSuperadmin(r.Context(), actor(r), id, auth.SuperadminUpdate{
		Name:              req.Name,
		Role:              req.Role,
		CustomPermissions: req.CustomPermissions,
		IsActive:          req.IsActive,
		Password:          req.Password,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSuperadminView(s))
}

func (a *API) handleDeleteSuperadmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteSuperadmin(r.Context(), actor(r), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeactivateSuperadmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeactivateSuperadmin(r.Context(), actor(r), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnlockSuperadmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.UnlockSuperadmin(r.Context(), actor(r), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req grantPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Permission) == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	s, err := a.svc.GrantPermission(r.Context(), actor(r), id, req.Permission)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSuperadminView(s))
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := a.svc.RevokePermission(r.Context(), actor(r), id, r.PathValue("permission"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSuperadminView(s))
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.svc.AuditLog(r.Context(), auth.AuditFilter{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
		Limit:  limit,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []auth.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
