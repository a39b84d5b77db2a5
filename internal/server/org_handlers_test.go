package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// createOrg creates an organization through the API and distributes the
// freshly generated organization key to the creator, exactly as the CLI
// does it.
func createOrg(t *testing.T, h http.Handler, admin *testAccount, name string) (int64, []byte) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/admin/organizations", admin.Token, map[string]string{
		"name": name,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orgID := int64(decodeBody(t, rec)["org_id"].(float64))

	orgKey, err := crypto.GenerateOrgKey()
	require.NoError(t, err)
	submitEnvelope(t, h, admin, admin, orgID, orgKey, 1)
	return orgID, orgKey
}

// submitEnvelope wraps orgKey for the recipient and submits it signed by
// the caller.
func submitEnvelope(t *testing.T, h http.Handler, caller, recipient *testAccount, orgID int64, orgKey []byte, keyVersion int64) {
	t.Helper()
	wrapped, err := crypto.WrapOrgKey(orgKey, &recipient.Material.EncryptionKey.PublicKey)
	require.NoError(t, err)
	sign := crypto.SignDetached(wrapped, caller.Material.SigningKey)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/key", caller.Token, map[string]any{
		"user_id":     recipient.ID,
		"org_id":      orgID,
		"data":        wrapped,
		"sign":        sign,
		"key_version": keyVersion,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestOrganizationCRUD(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")

	orgID, _ := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodGet, "/api/admin/organizations", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	rec = doJSON(t, h, http.MethodPatch, "/api/admin/organization/"+itoa(orgID), admin.Token, map[string]string{
		"name":        "platform",
		"description": "renamed",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/admin/organization/"+itoa(orgID), admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/admin/organizations", admin.Token, nil)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(0), body["count"])
}

func TestOwnEnvelopeRoundTrip(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodGet, "/api/admin/organization/"+itoa(orgID)+"/key", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].([]any)
	require.Len(t, data, 1)
	env := data[0].(map[string]any)

	// The wrapped key must open back to the original under the owner's
	// private key.
	unwrapped, err := crypto.UnwrapOrgKey(env["data"].(string), admin.Material.EncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, orgKey, unwrapped)
	assert.Equal(t, float64(1), env["key_version"])
}

func TestEnvelopeRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	wrapped, err := crypto.WrapOrgKey(orgKey, &admin.Material.EncryptionKey.PublicKey)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/key", admin.Token, map[string]any{
		"user_id":     admin.ID,
		"org_id":      orgID,
		"data":        wrapped,
		"sign":        crypto.SignDetached("something else entirely", admin.Material.SigningKey),
		"key_version": 1,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnvelopeRejectsNonRecipient(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	outsider := register(t, h, "eve@example.com", "evepass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	// A correctly signed envelope for someone who is neither a member nor
	// an admin has no business being stored.
	wrapped, err := crypto.WrapOrgKey(orgKey, &outsider.Material.EncryptionKey.PublicKey)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/key", admin.Token, map[string]any{
		"user_id":     outsider.ID,
		"org_id":      orgID,
		"data":        wrapped,
		"sign":        crypto.SignDetached(wrapped, admin.Material.SigningKey),
		"key_version": 1,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID)+"/key", outsider.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnvelopeRejectsStaleKeyVersion(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/"+itoa(orgID)+"/rotate-begin", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["key_version"])

	// A write still tagged with version 1 loses.
	wrapped, err := crypto.WrapOrgKey(orgKey, &admin.Material.EncryptionKey.PublicKey)
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPost, "/api/admin/organization/key", admin.Token, map[string]any{
		"user_id":     admin.ID,
		"org_id":      orgID,
		"data":        wrapped,
		"sign":        crypto.SignDetached(wrapped, admin.Material.SigningKey),
		"key_version": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMemberAddAndRemove(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	member := register(t, h, "bob@example.com", "bobpass-123")
	orgID, orgKey := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/member", admin.Token, map[string]any{
		"user_id": member.ID,
		"org_id":  orgID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitEnvelope(t, h, admin, member, orgID, orgKey, 1)

	// The member can now fetch their envelope through the safe route.
	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID)+"/key", member.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodDelete, "/api/admin/organization/member", admin.Token, map[string]any{
		"user_id": member.ID,
		"org_id":  orgID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Envelope revoked together with the membership.
	rec = doJSON(t, h, http.MethodGet, "/api/safe/"+itoa(orgID)+"/key", member.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecipientsIncludeAdmins(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	member := register(t, h, "bob@example.com", "bobpass-123")
	orgID, _ := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/member", admin.Token, map[string]any{
		"user_id": member.ID,
		"org_id":  orgID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/admin/organization/"+itoa(orgID)+"/recipients", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
}

func TestSelfAndRootGuard(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	root := register(t, h, "root@example.com", "rootpass-123")
	second := register(t, h, "admin2@example.com", "adminpass-123")

	// Promote the second account so it can attempt admin actions.
	rec := doJSON(t, h, http.MethodPatch, pathUser(second.ID), root.Token, map[string]any{
		"email":    second.Email,
		"is_admin": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Root cannot delete itself.
	rec = doJSON(t, h, http.MethodDelete, pathUser(root.ID), root.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The second admin cannot touch root.
	rec = doJSON(t, h, http.MethodDelete, pathUser(root.ID), second.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doJSON(t, h, http.MethodPatch, pathUser(root.ID), second.Token, map[string]any{
		"email": "root@example.com", "is_admin": false,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Nor itself.
	rec = doJSON(t, h, http.MethodDelete, pathUser(second.ID), second.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetUserKeyAndOrganizations(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	admin := register(t, h, "root@example.com", "rootpass-123")
	member := register(t, h, "bob@example.com", "bobpass-123")
	orgID, _ := createOrg(t, h, admin, "engineering")

	rec := doJSON(t, h, http.MethodPost, "/api/admin/organization/member", admin.Token, map[string]any{
		"user_id": member.ID,
		"org_id":  orgID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, pathUser(member.ID)+"/key", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["public_key"])

	rec = doJSON(t, h, http.MethodGet, pathUser(member.ID)+"/organizations", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}
