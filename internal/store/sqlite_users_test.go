package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser(email string) *User {
	return &User{
		Email:                 email,
		FirstName:             "Test",
		LastName:              "User",
		VerifierHash:          "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		Salt:                  "c2FsdHNhbHRzYWx0c2E=",
		PublicKey:             "pub-" + email,
		WrappedPrivateKey:     "priv-" + email,
		SignPublicKey:         "spub-" + email,
		WrappedSignPrivateKey: "spriv-" + email,
	}
}

func mustCreateUser(t *testing.T, st *SQLiteStore, email string) *User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), testUser(email))
	require.NoError(t, err)
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created := mustCreateUser(t, st, "alice@example.com")
	assert.NotZero(t, created.ID)

	byEmail, err := st.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, "pub-alice@example.com", byEmail.PublicKey)
	assert.Equal(t, "priv-alice@example.com", byEmail.WrappedPrivateKey)
	assert.False(t, byEmail.IsAdmin)
	assert.Nil(t, byEmail.LastLogin)
	assert.WithinDuration(t, time.Now().UTC(), byEmail.CreatedAt, time.Minute)

	byID, err := st.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, byEmail.Email, byID.Email)
}

func TestGetUserNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = st.GetUserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDuplicateEmailRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustCreateUser(t, st, "alice@example.com")
	_, err := st.CreateUser(ctx, testUser("alice@example.com"))
	assert.Error(t, err)
}

func TestListUsersPaged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		mustCreateUser(t, st, fmt.Sprintf("user%d@example.com", i))
	}

	page1, total, err := st.ListUsers(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, page1, 3)

	page3, total, err := st.ListUsers(ctx, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, page3, 1)

	// Pages never overlap.
	assert.NotEqual(t, page1[0].ID, page3[0].ID)
}

func TestUpdateUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")

	err := st.UpdateUser(ctx, u.ID, "alice@new.example.com", "Alice", "Admin", true, false)
	require.NoError(t, err)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", got.Email)
	assert.True(t, got.IsAdmin)
	// Key material is untouched by administrative updates.
	assert.Equal(t, u.WrappedPrivateKey, got.WrappedPrivateKey)

	err = st.UpdateUser(ctx, 9999, "x@example.com", "", "", false, false)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateUserKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")

	err := st.UpdateUserKeys(ctx, u.ID, "new-hash", "new-salt", "new-priv", "new-spriv")
	require.NoError(t, err)

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.VerifierHash)
	assert.Equal(t, "new-salt", got.Salt)
	assert.Equal(t, "new-priv", got.WrappedPrivateKey)
	assert.Equal(t, "new-spriv", got.WrappedSignPrivateKey)
	// Public keys and identity fields stay as registered.
	assert.Equal(t, u.PublicKey, got.PublicKey)
	assert.Equal(t, u.SignPublicKey, got.SignPublicKey)
	assert.Equal(t, u.Email, got.Email)

	err = st.UpdateUserKeys(ctx, 9999, "h", "s", "p", "sp")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteUserCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")
	org, err := st.CreateOrganization(ctx, "eng", "")
	require.NoError(t, err)
	require.NoError(t, st.AddMember(ctx, u.ID, org.ID))
	require.NoError(t, st.UpsertEnvelope(ctx, &Envelope{
		UserID: u.ID, OrgID: org.ID, Data: "wrapped", Sign: "sig",
		SignerID: u.ID, KeyVersion: 1,
	}))

	require.NoError(t, st.DeleteUser(ctx, u.ID))

	_, err = st.GetUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	member, err := st.IsMember(ctx, u.ID, org.ID)
	require.NoError(t, err)
	assert.False(t, member)

	has, err := st.HasEnvelope(ctx, u.ID, org.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestListAdmins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, st, "admin@example.com")
	mustCreateUser(t, st, "user@example.com")
	require.NoError(t, st.UpdateUser(ctx, a.ID, a.Email, a.FirstName, a.LastName, true, false))

	admins, err := st.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, a.ID, admins[0].UserID)
	assert.Equal(t, a.PublicKey, admins[0].PublicKey)
}

func TestTouchLastLogin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")
	require.NoError(t, st.TouchLastLogin(ctx, u.ID))

	got, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastLogin, time.Minute)
}

func TestSessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")
	err := st.CreateSession(ctx, u.ID, "hash1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := st.GetUserBySession(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, st.DeleteSession(ctx, "hash1"))
	_, err = st.GetUserBySession(ctx, "hash1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestExpiredSessionRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")
	require.NoError(t, st.CreateSession(ctx, u.ID, "stale", time.Now().Add(-time.Hour)))

	_, err := st.GetUserBySession(ctx, "stale")
	assert.ErrorIs(t, err, ErrUserNotFound)

	n, err := st.CleanExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSuspendedUserSessionRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := mustCreateUser(t, st, "alice@example.com")
	require.NoError(t, st.CreateSession(ctx, u.ID, "hash1", time.Now().Add(time.Hour)))
	require.NoError(t, st.UpdateUser(ctx, u.ID, u.Email, u.FirstName, u.LastName, false, true))

	_, err := st.GetUserBySession(ctx, "hash1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
