package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// addSecret encrypts and signs credentials client-side and stores them.
func addSecret(t *testing.T, h http.Handler, acct *testAccount, orgID int64, orgKey []byte, name string, creds crypto.Credentials, keyVersion int64) int64 {
	t.Helper()
	blob, err := crypto.EncryptCredentials(creds, orgKey)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/api/safe", acct.Token, map[string]any{
		"org_id":      orgID,
		"name":        name,
		"data":        blob,
		"sign":        crypto.SignDetached(blob, acct.Material.SigningKey),
		"key_version": keyVersion,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return int64(decodeBody(t, rec)["pass_id"].(float64))
}

func TestSecretLifecycle(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	creds := crypto.Credentials{Account: "deploy", Password: "hunter2"}
	passID := addSecret(t, h, admin, orgID, orgKey, "prod-db", creds, 1)

	// List, decrypt, compare.
	rec := doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID), admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["count"])
	row := body["data"].([]any)[0].(map[string]any)
	got, err := crypto.DecryptCredentials(row["data"].(string), orgKey)
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// Update.
	newBlob, err := crypto.EncryptCredentials(crypto.Credentials{Account: "deploy", Password: "correct horse"}, orgKey)
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPatch, "/api/safe", admin.Token, map[string]any{
		"pass_id":     passID,
		"name":        "prod-db",
		"data":        newBlob,
		"sign":        crypto.SignDetached(newBlob, admin.Material.SigningKey),
		"key_version": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Delete.
	rec = doJSON(t, h, http.MethodDelete, "/api/safe", admin.Token, map[string]any{"pass_id": passID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID), admin.Token, nil)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestSecretsRequireEnvelope(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	outsider := register(t, h, "eve@example.com", "evepass-123")
	orgID, _ := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID), outsider.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDanglingMembershipSelfHeals(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	member := register(t, h, "bob@example.com", "bobpass-123")
	orgID, _ := createOrg(t, h, admin, "engineering")

	// Membership without an envelope: visibility without capability.
	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/member", admin.Token, map[string]any{
		"user_id": member.ID,
		"org_id":  orgID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID), member.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The dangling membership row is gone afterwards.
	rec = doJSON(t, h, http.MethodGet, pathUser(member.ID)+"/organizations", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestSecretRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	blob, err := crypto.EncryptCredentials(crypto.Credentials{Account: "a", Password: "b"}, orgKey)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/safe", admin.Token, map[string]any{
		"org_id":      orgID,
		"name":        "tampered",
		"data":        blob,
		"sign":        crypto.SignDetached("different payload", admin.Material.SigningKey),
		"key_version": 1,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecretRejectsForeignSignature(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	other := register(t, h, "mallory@example.com", "mallorypass-1")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	// A signature by someone else over the same bytes must not pass as the
	// caller's.
	blob, err := crypto.EncryptCredentials(crypto.Credentials{Account: "a", Password: "b"}, orgKey)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/api/safe", admin.Token, map[string]any{
		"org_id":      orgID,
		"name":        "forged",
		"data":        blob,
		"sign":        crypto.SignDetached(blob, other.Material.SigningKey),
		"key_version": 1,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecretRejectsStaleKeyVersion(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/"+itoa(orgID)+"/rotate-begin", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	blob, err := crypto.EncryptCredentials(crypto.Credentials{Account: "a", Password: "b"}, orgKey)
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPost, "/api/safe", admin.Token, map[string]any{
		"org_id":      orgID,
		"name":        "late",
		"data":        blob,
		"sign":        crypto.SignDetached(blob, admin.Material.SigningKey),
		"key_version": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSecretBatchUpdate(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, addSecret(t, h, admin, orgID, orgKey,
			fmt.Sprintf("secret%d", i), crypto.Credentials{Account: "a", Password: "b"}, 1))
	}

	var batch []map[string]any
	for _, id := range ids {
		blob, err := crypto.EncryptCredentials(crypto.Credentials{Account: "a", Password: "new"}, orgKey)
		require.NoError(t, err)
		batch = append(batch, map[string]any{
			"pass_id":     id,
			"data":        blob,
			"sign":        crypto.SignDetached(blob, admin.Material.SigningKey),
			"key_version": 1,
		})
	}
	rec := doJSON(t, h, http.MethodPatch, "/api/safe/batch", admin.Token, batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID), admin.Token, nil)
	for _, raw := range decodeBody(t, rec)["data"].([]any) {
		row := raw.(map[string]any)
		got, err := crypto.DecryptCredentials(row["data"].(string), orgKey)
		require.NoError(t, err)
		assert.Equal(t, "new", got.Password)
	}
}

func TestSecretPagination(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	for i := 0; i < 12; i++ {
		addSecret(t, h, admin, orgID, orgKey,
			fmt.Sprintf("secret%02d", i), crypto.Credentials{Account: "a", Password: "b"}, 1)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID)+"?page=1", admin.Token, nil)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(12), body["count"])
	assert.Len(t, body["data"].([]any), 10)

	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID)+"?page=2", admin.Token, nil)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(12), body["count"])
	assert.Len(t, body["data"].([]any), 2)
}
