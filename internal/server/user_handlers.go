package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleListUsers returns one page of accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, total, err := s.store.ListUsers(r.Context(), pageParam(r), DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(users))
	for i := range users {
		data = append(data, userPayload(&users[i]))
	}
	writePage(w, data, total)
}

// handleListAdmins returns every administrator's id and public key. An
// admin grant wraps each organization key for the new admin, so the caller
// needs this list whole, not paged.
func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := s.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(admins))
	for _, a := range admins {
		data = append(data, map[string]any{
			"user_id":    a.UserID,
			"public_key": a.PublicKey,
		})
	}
	writePage(w, data, len(data))
}

// handleGetUserKey returns a user's public encryption key, used when
// wrapping an organization key for them.
func (s *Server) handleGetUserKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         user.ID,
		"public_key":      user.PublicKey,
		"sign_public_key": user.SignPublicKey,
	})
}

// handleGetUserOrganizations returns a user's memberships.
func (s *Server) handleGetUserOrganizations(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	if _, err := s.store.GetUserByID(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	memberships, err := s.store.ListUserMemberships(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(memberships))
	for _, m := range memberships {
		data = append(data, map[string]any{
			"user_id": m.UserID,
			"org_id":  m.OrgID,
		})
	}
	writePage(w, data, len(data))
}

// handleUpdateUser edits an account's administrative fields. Admins cannot
// edit themselves or the root account.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	caller := UserFromContext(r.Context())
	if !requireNotSelfOrRoot(caller, userID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot modify this account"})
		return
	}

	var req struct {
		Email       string `json:"email"`
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		IsAdmin     bool   `json:"is_admin"`
		IsSuspended bool   `json:"is_suspended"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email required"})
		return
	}

	err := s.store.UpdateUser(r.Context(), userID, email, req.FirstName, req.LastName, req.IsAdmin, req.IsSuspended)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteUser removes an account. Admins cannot delete themselves or
// the root account.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	caller := UserFromContext(r.Context())
	if !requireNotSelfOrRoot(caller, userID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot delete this account"})
		return
	}
	if err := s.store.DeleteUser(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
