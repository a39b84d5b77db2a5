package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

// ErrBadSignature indicates a payload whose detached signature does not
// verify against the signer's registered public key.
var ErrBadSignature = errors.New("signature verification failed")

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writePage writes a paged listing in the {data, count} envelope the client
// drives its cursors from. count is always the full result count, not the
// page length.
func writePage(w http.ResponseWriter, data any, count int) {
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "count": count})
}

// writeError maps an error to its HTTP status. Missing referents are client
// errors: the ids came from the request. Capability errors are 403, stale
// rotation writes are conflicts, and anything unrecognized is treated as
// infrastructure trouble.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrOrgNotFound),
		errors.Is(err, store.ErrSecretNotFound):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNoEnvelope),
		errors.Is(err, store.ErrNotMember),
		errors.Is(err, ErrBadSignature):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrStaleKeyVersion):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
	}
}
