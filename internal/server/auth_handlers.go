package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/BERNARDO31P/Password-Safe/internal/auth"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

// hashToken computes a SHA-256 hash of the raw token and returns it hex-encoded.
// Session tokens are always hashed before storage or lookup.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// registerRequest carries everything the client generated locally: the
// verifier (a digest of the password-derived wrapping key, never the
// password), the KDF salt, and the key material with private halves already
// wrapped.
type registerRequest struct {
	Email                 string `json:"email"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Verifier              string `json:"verifier"`
	Salt                  string `json:"salt"`
	PublicKey             string `json:"public_key"`
	WrappedPrivateKey     string `json:"private_key"`
	SignPublicKey         string `json:"sign_public_key"`
	WrappedSignPrivateKey string `json:"sign_private_key"`
}

// handleRegister creates a new user account and returns a session.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email address"})
		return
	}

	if req.Verifier == "" || req.Salt == "" ||
		req.PublicKey == "" || req.WrappedPrivateKey == "" ||
		req.SignPublicKey == "" || req.WrappedSignPrivateKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "incomplete key material"})
		return
	}

	// The public keys must at least parse; the wrapped private halves are
	// opaque and stay that way.
	if _, err := crypto.ParsePublicKey(req.PublicKey); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid public key"})
		return
	}
	if _, err := crypto.ParseSignPublicKey(req.SignPublicKey); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signing public key"})
		return
	}
	if !auth.ValidVerifier(req.Verifier) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid verifier"})
		return
	}

	verifierHash, err := auth.HashVerifier(req.Verifier, auth.DefaultParams)
	if err != nil {
		slog.Error("failed to hash verifier", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	user := &store.User{
		Email:                 email,
		FirstName:             strings.TrimSpace(req.FirstName),
		LastName:              strings.TrimSpace(req.LastName),
		VerifierHash:          verifierHash,
		Salt:                  req.Salt,
		PublicKey:             req.PublicKey,
		WrappedPrivateKey:     req.WrappedPrivateKey,
		SignPublicKey:         req.SignPublicKey,
		WrappedSignPrivateKey: req.WrappedSignPrivateKey,
	}

	// The first account becomes the root administrator.
	if _, total, err := s.store.ListUsers(r.Context(), 1, 1); err == nil && total == 0 {
		user.IsAdmin = true
	}

	user, err = s.store.CreateUser(r.Context(), user)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
			return
		}
		slog.Error("failed to create user", "error", err)
		writeError(w, err)
		return
	}

	rawToken, err := s.newSession(r, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token": rawToken,
		"user":  userPayload(user),
	})
}

// handleSalt returns the KDF salt for an email address, which the client
// needs before it can derive its wrapping key and verifier. Unknown
// addresses get a deterministic decoy salt so the endpoint cannot be used
// for account enumeration.
func (s *Server) handleSalt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	salt := decoySalt(email)
	if user, err := s.store.GetUserByEmail(r.Context(), email); err == nil {
		salt = user.Salt
	}

	writeJSON(w, http.StatusOK, map[string]string{"salt": salt})
}

// decoySalt derives a stable fake salt from the email address alone.
func decoySalt(email string) string {
	sum := sha512.Sum512([]byte("salt:" + email))
	return base64.StdEncoding.EncodeToString(sum[:crypto.SaltSize])
}

// handleLogin authenticates a user by verifier and returns a session
// together with the wrapped key material the client needs to unlock.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Verifier string `json:"verifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Fetch user -- timing-safe: always run CheckVerifier. Only a missing
	// account falls through to the dummy comparison; an unreachable store
	// is an infrastructure failure, not a bad credential.
	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		writeError(w, err)
		return
	}

	verifierHash := auth.DummyHash
	if err == nil && user != nil {
		verifierHash = user.VerifierHash
	}

	match, verifyErr := auth.CheckVerifier(req.Verifier, verifierHash)
	if verifyErr != nil {
		slog.Error("verifier check error", "error", verifyErr)
	}

	if !match || user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}
	if user.IsSuspended {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "account suspended"})
		return
	}

	rawToken, err := s.newSession(r, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.TouchLastLogin(r.Context(), user.ID); err != nil {
		slog.Error("failed to update last login", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": rawToken,
		"user":  userPayload(user),
	})
}

// handleLogout invalidates the current session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	rawToken := extractToken(r)
	if rawToken == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	if err := s.store.DeleteSession(r.Context(), hashToken(rawToken)); err != nil {
		slog.Error("failed to delete session", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMe returns the authenticated user's account, including the wrapped
// key material.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, userPayload(user))
}

// handleChangePassword replaces the caller's verifier, salt and wrapped
// private keys in one shot. The client re-wraps its existing keypairs under
// the new password locally; the public keys do not change, so envelopes and
// signatures stay valid. Gated on the old verifier, not just the session,
// so a stolen token alone cannot swap the credentials.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req struct {
		VerifierOld           string `json:"verifier_old"`
		Verifier              string `json:"verifier"`
		Salt                  string `json:"salt"`
		WrappedPrivateKey     string `json:"private_key"`
		WrappedSignPrivateKey string `json:"sign_private_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Salt == "" || req.WrappedPrivateKey == "" || req.WrappedSignPrivateKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "incomplete key material"})
		return
	}
	if !auth.ValidVerifier(req.Verifier) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid verifier"})
		return
	}

	match, err := auth.CheckVerifier(req.VerifierOld, user.VerifierHash)
	if err != nil {
		slog.Error("verifier check error", "error", err)
	}
	if !match {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}

	verifierHash, err := auth.HashVerifier(req.Verifier, auth.DefaultParams)
	if err != nil {
		slog.Error("failed to hash verifier", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	err = s.store.UpdateUserKeys(r.Context(), user.ID, verifierHash, req.Salt,
		req.WrappedPrivateKey, req.WrappedSignPrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// newSession mints a session token, stores its hash and returns the raw token.
func (s *Server) newSession(r *http.Request, userID int64) (string, error) {
	rawToken := rand.Text()
	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	if err := s.store.CreateSession(r.Context(), userID, hashToken(rawToken), expiresAt); err != nil {
		slog.Error("failed to create session", "error", err)
		return "", err
	}
	return rawToken, nil
}

// userPayload is the JSON shape of an account. The private keys are the
// wrapped blobs exactly as stored; only their owner can open them.
func userPayload(u *store.User) map[string]any {
	return map[string]any{
		"user_id":          u.ID,
		"email":            u.Email,
		"first_name":       u.FirstName,
		"last_name":        u.LastName,
		"is_admin":         u.IsAdmin,
		"is_suspended":     u.IsSuspended,
		"salt":             u.Salt,
		"public_key":       u.PublicKey,
		"private_key":      u.WrappedPrivateKey,
		"sign_public_key":  u.SignPublicKey,
		"sign_private_key": u.WrappedSignPrivateKey,
	}
}
