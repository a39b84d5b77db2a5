package server

import (
	"encoding/json"
	"net/http"

	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

// secretPayload is the JSON shape of a stored secret record.
func secretPayload(rec store.SecretRecord) map[string]any {
	return map[string]any{
		"pass_id":     rec.PassID,
		"org_id":      rec.OrgID,
		"name":        rec.Name,
		"description": rec.Description,
		"url":         rec.URL,
		"data":        rec.Data,
		"sign":        rec.Sign,
		"signer_id":   rec.SignerID,
		"key_version": rec.KeyVersion,
	}
}

// secretRequest is a secret record submission. Data is the credential
// ciphertext, Sign the detached signature over it.
type secretRequest struct {
	PassID      int64  `json:"pass_id"`
	OrgID       int64  `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Data        string `json:"data"`
	Sign        string `json:"sign"`
	KeyVersion  int64  `json:"key_version"`
}

// handleListSecrets returns one page of an organization's secret records.
// The caller must hold an envelope; visibility without decrypt capability
// serves no one.
func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return
	}
	user := UserFromContext(r.Context())
	if err := s.requireEnvelope(r.Context(), user, orgID); err != nil {
		writeError(w, err)
		return
	}

	records, total, err := s.store.ListOrgSecrets(r.Context(), orgID, pageParam(r), DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		data = append(data, secretPayload(rec))
	}
	writePage(w, data, total)
}

// gateSecretWrite runs the full access gate for one secret submission:
// envelope present, signature valid, key version current.
func (s *Server) gateSecretWrite(r *http.Request, user *store.User, req secretRequest) error {
	if err := s.requireEnvelope(r.Context(), user, req.OrgID); err != nil {
		return err
	}
	if err := s.verifySignature(r.Context(), req.Data, req.Sign, user); err != nil {
		return err
	}
	org, err := s.store.GetOrganization(r.Context(), req.OrgID)
	if err != nil {
		return err
	}
	if req.KeyVersion < org.KeyVersion {
		return store.ErrStaleKeyVersion
	}
	return nil
}

// handleCreateSecret stores a new secret record.
func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Data == "" || req.Sign == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid secret"})
		return
	}
	user := UserFromContext(r.Context())
	if err := s.gateSecretWrite(r, user, req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.store.CreateSecret(r.Context(), &store.SecretRecord{
		OrgID:       req.OrgID,
		Name:        req.Name,
		Description: req.Description,
		URL:         req.URL,
		Data:        req.Data,
		Sign:        req.Sign,
		SignerID:    user.ID,
		KeyVersion:  req.KeyVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, secretPayload(*rec))
}

// handleUpdateSecret rewrites an existing secret record.
func (s *Server) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PassID == 0 || req.Name == "" || req.Data == "" || req.Sign == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid secret"})
		return
	}
	user := UserFromContext(r.Context())

	// The org comes from the stored row, not the request: a caller cannot
	// smuggle a record from one organization into another.
	existing, err := s.store.GetSecret(r.Context(), req.PassID)
	if err != nil {
		writeError(w, err)
		return
	}
	req.OrgID = existing.OrgID

	if err := s.gateSecretWrite(r, user, req); err != nil {
		writeError(w, err)
		return
	}

	err = s.store.UpdateSecret(r.Context(), &store.SecretRecord{
		PassID:      req.PassID,
		OrgID:       existing.OrgID,
		Name:        req.Name,
		Description: req.Description,
		URL:         req.URL,
		Data:        req.Data,
		Sign:        req.Sign,
		SignerID:    user.ID,
		KeyVersion:  req.KeyVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleUpdateSecretsBatch rewrites one page of records in a single
// transaction. This is the rotation's re-encryption write path.
func (s *Server) handleUpdateSecretsBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []secretRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil || len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid secret batch"})
		return
	}
	user := UserFromContext(r.Context())

	records := make([]store.SecretRecord, 0, len(reqs))
	for _, req := range reqs {
		if req.PassID == 0 || req.Data == "" || req.Sign == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid secret"})
			return
		}
		existing, err := s.store.GetSecret(r.Context(), req.PassID)
		if err != nil {
			writeError(w, err)
			return
		}
		req.OrgID = existing.OrgID
		if err := s.gateSecretWrite(r, user, req); err != nil {
			writeError(w, err)
			return
		}
		records = append(records, store.SecretRecord{
			PassID:     req.PassID,
			Data:       req.Data,
			Sign:       req.Sign,
			SignerID:   user.ID,
			KeyVersion: req.KeyVersion,
		})
	}

	if err := s.store.UpdateSecrets(r.Context(), records); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteSecret removes a secret record.
func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PassID int64 `json:"pass_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PassID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	user := UserFromContext(r.Context())

	existing, err := s.store.GetSecret(r.Context(), req.PassID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.requireEnvelope(r.Context(), user, existing.OrgID); err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.DeleteSecret(r.Context(), req.PassID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
