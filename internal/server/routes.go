package server

import "net/http"

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Auth routes (public -- no requireAuth wrapper)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/salt", s.handleSalt)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.Handle("GET /api/auth/me", s.requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("PATCH /api/auth/account", s.requireAuth(http.HandlerFunc(s.handleChangePassword)))

	// Organization administration
	mux.Handle("POST /api/admin/organizations", s.requireAdmin(http.HandlerFunc(s.handleCreateOrganization)))
	mux.Handle("GET /api/admin/organizations", s.requireAdmin(http.HandlerFunc(s.handleListOrganizations)))
	mux.Handle("PATCH /api/admin/organization/{id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateOrganization)))
	mux.Handle("DELETE /api/admin/organization/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteOrganization)))

	// Envelopes and rotation
	mux.Handle("GET /api/admin/organization/{id}/key", s.requireAdmin(http.HandlerFunc(s.handleOwnEnvelopes)))
	mux.Handle("GET /api/admin/organization/{id}/keys", s.requireAdmin(http.HandlerFunc(s.handleListOrgEnvelopes)))
	mux.Handle("GET /api/admin/organization/{id}/recipients", s.requireAdmin(http.HandlerFunc(s.handleListRecipients)))
	mux.Handle("POST /api/admin/organization/{id}/rotate-begin", s.requireAdmin(http.HandlerFunc(s.handleRotateBegin)))
	mux.Handle("POST /api/admin/organization/{id}/prune", s.requireAdmin(http.HandlerFunc(s.handlePruneEnvelopes)))
	mux.Handle("POST /api/admin/organization/key", s.requireAdmin(http.HandlerFunc(s.handleSubmitEnvelope)))
	mux.Handle("PATCH /api/admin/organization/keys", s.requireAdmin(http.HandlerFunc(s.handleSubmitEnvelopes)))

	// Membership
	mux.Handle("POST /api/admin/organization/member", s.requireAdmin(http.HandlerFunc(s.handleAddMember)))
	mux.Handle("DELETE /api/admin/organization/member", s.requireAdmin(http.HandlerFunc(s.handleRemoveMember)))

	// User administration
	mux.Handle("GET /api/admin/users", s.requireAdmin(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("GET /api/admin/users/admins", s.requireAdmin(http.HandlerFunc(s.handleListAdmins)))
	mux.Handle("GET /api/admin/user/{id}/key", s.requireAdmin(http.HandlerFunc(s.handleGetUserKey)))
	mux.Handle("GET /api/admin/user/{id}/organizations", s.requireAdmin(http.HandlerFunc(s.handleGetUserOrganizations)))
	mux.Handle("PATCH /api/admin/user/{id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateUser)))
	mux.Handle("DELETE /api/admin/user/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteUser)))

	// Safe (member-facing)
	mux.Handle("GET /api/safe/{id}", s.requireAuth(http.HandlerFunc(s.handleListSecrets)))
	mux.Handle("GET /api/safe/{id}/key", s.requireAuth(http.HandlerFunc(s.handleOwnEnvelopes)))
	mux.Handle("POST /api/safe", s.requireAuth(http.HandlerFunc(s.handleCreateSecret)))
	mux.Handle("PATCH /api/safe", s.requireAuth(http.HandlerFunc(s.handleUpdateSecret)))
	mux.Handle("PATCH /api/safe/batch", s.requireAuth(http.HandlerFunc(s.handleUpdateSecretsBatch)))
	mux.Handle("DELETE /api/safe", s.requireAuth(http.HandlerFunc(s.handleDeleteSecret)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","db":"error"}`))
			return
		}
	}

	w.Write([]byte(`{"status":"ok","db":"connected"}`))
}
