package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

// orgPayload is the JSON shape of an organization.
func orgPayload(o *store.Organization) map[string]any {
	return map[string]any{
		"org_id":      o.ID,
		"name":        o.Name,
		"description": o.Description,
		"key_version": o.KeyVersion,
	}
}

// envelopePayload is the JSON shape of a wrapped organization key.
func envelopePayload(e store.Envelope) map[string]any {
	return map[string]any{
		"user_id":     e.UserID,
		"org_id":      e.OrgID,
		"data":        e.Data,
		"sign":        e.Sign,
		"signer_id":   e.SignerID,
		"key_version": e.KeyVersion,
	}
}

// pathID parses the {id} path segment.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// pageParam parses ?page=n, defaulting to the first page.
func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// handleCreateOrganization creates an organization at key version 1. The
// caller then generates the organization key locally and distributes
// envelopes to all administrators.
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization name required"})
		return
	}

	org, err := s.store.CreateOrganization(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orgPayload(org))
}

// handleListOrganizations returns one page of organizations.
func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, total, err := s.store.ListOrganizations(r.Context(), pageParam(r), DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(orgs))
	for i := range orgs {
		data = append(data, orgPayload(&orgs[i]))
	}
	writePage(w, data, total)
}

// handleUpdateOrganization edits name and description.
func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization name required"})
		return
	}
	if err := s.store.UpdateOrganization(r.Context(), orgID, req.Name, req.Description); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteOrganization deletes an organization and everything under it.
func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	if err := s.store.DeleteOrganization(r.Context(), orgID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleOwnEnvelopes returns the caller's envelopes for an organization,
// newest key version first. Serves both the admin and the member route.
func (s *Server) handleOwnEnvelopes(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	user := UserFromContext(r.Context())

	envelopes, err := s.store.GetEnvelopes(r.Context(), user.ID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(envelopes))
	for _, e := range envelopes {
		data = append(data, envelopePayload(e))
	}
	writePage(w, data, len(data))
}

// handleListOrgEnvelopes returns one page of all envelopes for an
// organization. Rotation fan-out reads this.
func (s *Server) handleListOrgEnvelopes(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	envelopes, total, err := s.store.ListOrgEnvelopes(r.Context(), orgID, pageParam(r), DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(envelopes))
	for _, e := range envelopes {
		data = append(data, envelopePayload(e))
	}
	writePage(w, data, total)
}

// handleListRecipients returns one page of the users entitled to hold the
// organization key: members plus administrators.
func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	recipients, total, err := s.store.ListRecipients(r.Context(), orgID, pageParam(r), DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(recipients))
	for _, rec := range recipients {
		data = append(data, map[string]any{
			"user_id":    rec.UserID,
			"public_key": rec.PublicKey,
		})
	}
	writePage(w, data, total)
}

// envelopeRequest is a wrapped key submission.
type envelopeRequest struct {
	UserID     int64  `json:"user_id"`
	OrgID      int64  `json:"org_id"`
	Data       string `json:"data"`
	Sign       string `json:"sign"`
	KeyVersion int64  `json:"key_version"`
}

// storeEnvelope verifies the caller's signature over the wrapped bytes and
// that the target is entitled to hold the key (member or admin), then
// upserts the envelope under the caller's identity.
func (s *Server) storeEnvelope(r *http.Request, caller *store.User, req envelopeRequest) error {
	if err := s.verifySignature(r.Context(), req.Data, req.Sign, caller); err != nil {
		return err
	}
	target, err := s.store.GetUserByID(r.Context(), req.UserID)
	if err != nil {
		return err
	}
	if !target.IsAdmin {
		member, err := s.store.IsMember(r.Context(), req.UserID, req.OrgID)
		if err != nil {
			return err
		}
		if !member {
			return store.ErrNotMember
		}
	}
	return s.store.UpsertEnvelope(r.Context(), &store.Envelope{
		UserID:     req.UserID,
		OrgID:      req.OrgID,
		Data:       req.Data,
		Sign:       req.Sign,
		SignerID:   caller.ID,
		KeyVersion: req.KeyVersion,
	})
}

// handleSubmitEnvelope stores a single envelope.
func (s *Server) handleSubmitEnvelope(w http.ResponseWriter, r *http.Request) {
	var req envelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == "" || req.Sign == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid envelope"})
		return
	}
	caller := UserFromContext(r.Context())
	if err := s.storeEnvelope(r, caller, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// handleSubmitEnvelopes stores a batch of envelopes, one rotation page.
func (s *Server) handleSubmitEnvelopes(w http.ResponseWriter, r *http.Request) {
	var reqs []envelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil || len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid envelope batch"})
		return
	}
	caller := UserFromContext(r.Context())
	for _, req := range reqs {
		if req.Data == "" || req.Sign == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid envelope"})
			return
		}
		if err := s.storeEnvelope(r, caller, req); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRotateBegin allocates the next key version for a rotation run.
// Concurrent rotations each get their own version; the lower one's writes
// are rejected as stale from that point on.
func (s *Server) handleRotateBegin(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	version, err := s.store.BumpKeyVersion(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key_version": version})
}

// handlePruneEnvelopes deletes envelopes older than the given key version.
// The rotation client calls this after the last page has landed.
func (s *Server) handlePruneEnvelopes(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	var req struct {
		KeyVersion int64 `json:"key_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.KeyVersion < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid key version"})
		return
	}
	n, err := s.store.PruneStaleEnvelopes(r.Context(), orgID, req.KeyVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pruned": n})
}

// handleAddMember grants a user membership of an organization. The caller
// wraps the organization key for the new member separately.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
		OrgID  int64 `json:"org_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, err := s.store.GetUserByID(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.GetOrganization(r.Context(), req.OrgID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.AddMember(r.Context(), req.UserID, req.OrgID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// handleRemoveMember revokes membership and the member's envelopes in one
// step. The caller is expected to rotate the organization key afterwards;
// until it does, the removed member can no longer fetch anything but the
// old key may survive in their memory.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
		OrgID  int64 `json:"org_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.store.RemoveMember(r.Context(), req.UserID, req.OrgID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
