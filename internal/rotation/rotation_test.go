package rotation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// fakeServer is an in-memory stand-in for the HTTP API, implementing all
// three pager interfaces with the same paging contract as the real server.
type envelopeKey struct {
	userID     int64
	keyVersion int64
}

type fakeServer struct {
	secrets    []SecretRecord
	envelopes  map[envelopeKey]Envelope // single org
	recipients []Recipient
	keyVersion int64

	fetchSecretCalls    int
	submitSecretCalls   int
	fetchRecipientCalls int

	failSecretSubmitOn int // 1-based submission index to fail on, 0 = never
}

func newFakeServer() *fakeServer {
	return &fakeServer{envelopes: make(map[envelopeKey]Envelope)}
}

// latestEnvelope returns the user's highest-version envelope, if any.
func (f *fakeServer) latestEnvelope(userID int64) (Envelope, bool) {
	var best Envelope
	found := false
	for key, env := range f.envelopes {
		if key.userID == userID && (!found || env.KeyVersion > best.KeyVersion) {
			best = env
			found = true
		}
	}
	return best, found
}

func (f *fakeServer) envelopeCount() int {
	return len(f.envelopes)
}

func (f *fakeServer) dropUser(userID int64) {
	for key := range f.envelopes {
		if key.userID == userID {
			delete(f.envelopes, key)
		}
	}
}

func pageBounds(page, pageSize, total int) (int, int) {
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func (f *fakeServer) FetchSecrets(_ context.Context, _ int64, page, pageSize int) ([]SecretRecord, int, error) {
	f.fetchSecretCalls++
	start, end := pageBounds(page, pageSize, len(f.secrets))
	out := make([]SecretRecord, end-start)
	copy(out, f.secrets[start:end])
	return out, len(f.secrets), nil
}

func (f *fakeServer) SubmitSecrets(_ context.Context, records []SecretRecord) error {
	f.submitSecretCalls++
	if f.failSecretSubmitOn > 0 && f.submitSecretCalls >= f.failSecretSubmitOn {
		return errors.New("persistence layer unreachable")
	}
	for _, record := range records {
		for i := range f.secrets {
			if f.secrets[i].PassID == record.PassID {
				f.secrets[i] = record
			}
		}
	}
	return nil
}

func (f *fakeServer) SubmitEnvelopes(_ context.Context, envelopes []Envelope) error {
	for _, env := range envelopes {
		f.envelopes[envelopeKey{env.UserID, env.KeyVersion}] = env
	}
	return nil
}

func (f *fakeServer) PruneStale(_ context.Context, _ int64, keyVersion int64) error {
	for key, env := range f.envelopes {
		if env.KeyVersion < keyVersion {
			delete(f.envelopes, key)
		}
	}
	return nil
}

func (f *fakeServer) FetchRecipients(_ context.Context, _ int64, page, pageSize int) ([]Recipient, int, error) {
	f.fetchRecipientCalls++
	sorted := make([]Recipient, len(f.recipients))
	copy(sorted, f.recipients)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })
	start, end := pageBounds(page, pageSize, len(sorted))
	return sorted[start:end], len(sorted), nil
}

func (f *fakeServer) OwnEnvelopes(_ context.Context, _ int64) ([]Envelope, error) {
	// The acting admin in these tests is always user 1.
	var out []Envelope
	for key, env := range f.envelopes {
		if key.userID == 1 {
			out = append(out, env)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no envelope")
	}
	return out, nil
}

func (f *fakeServer) BeginRotation(_ context.Context, _ int64) (int64, error) {
	f.keyVersion++
	return f.keyVersion, nil
}

type testUser struct {
	id       int64
	keys     *crypto.UserKeys
	material *crypto.KeyMaterial
}

func makeUser(t *testing.T, id int64) testUser {
	t.Helper()
	keys, material, err := crypto.GenerateUserKeys(fmt.Sprintf("password-%d", id))
	require.NoError(t, err)
	return testUser{id: id, keys: keys, material: material}
}

// seed wraps orgKey for every user and encrypts n secrets under it.
func seed(t *testing.T, f *fakeServer, orgKey []byte, users []testUser, n int) {
	t.Helper()
	f.keyVersion = 1
	for _, u := range users {
		pub, err := crypto.ParsePublicKey(u.keys.PublicKey)
		require.NoError(t, err)
		wrapped, err := crypto.WrapOrgKey(orgKey, pub)
		require.NoError(t, err)
		f.envelopes[envelopeKey{u.id, 1}] = Envelope{
			UserID:     u.id,
			OrgID:      1,
			Data:       wrapped,
			Sign:       crypto.SignDetached(wrapped, users[0].material.SigningKey),
			KeyVersion: 1,
		}
		f.recipients = append(f.recipients, Recipient{UserID: u.id, PublicKey: u.keys.PublicKey})
	}
	for i := 1; i <= n; i++ {
		data, err := crypto.EncryptCredentials(crypto.Credentials{
			Account:  fmt.Sprintf("account-%d", i),
			Password: fmt.Sprintf("password-%d", i),
		}, orgKey)
		require.NoError(t, err)
		f.secrets = append(f.secrets, SecretRecord{
			PassID:     int64(i),
			OrgID:      1,
			Name:       fmt.Sprintf("entry %d", i),
			Data:       data,
			Sign:       crypto.SignDetached(data, users[0].material.SigningKey),
			KeyVersion: 1,
		})
	}
}

func newRotator(f *fakeServer, admin testUser, pageSize int) *Rotator {
	return &Rotator{
		Secrets:   f,
		Envelopes: f,
		Directory: f,
		Material:  admin.material,
		UserID:    admin.id,
		PageSize:  pageSize,
	}
}

// Revoking u3 and rotating must leave exactly two envelopes, all five secrets
// decryptable by u1 and u2 under the new key, and nothing decryptable with
// u3's retained copy of the old key.
func TestRotationAfterMemberRemoval(t *testing.T) {
	u1 := makeUser(t, 1)
	u2 := makeUser(t, 2)
	u3 := makeUser(t, 3)

	oldKey, err := crypto.GenerateOrgKey()
	require.NoError(t, err)

	f := newFakeServer()
	seed(t, f, oldKey, []testUser{u1, u2, u3}, 5)

	// u3 loses access: membership revoked, envelope deleted, recipients updated.
	f.dropUser(u3.id)
	f.recipients = f.recipients[:2]

	rotator := newRotator(f, u1, 2)
	require.NoError(t, rotator.Run(context.Background(), 1, false))
	assert.Equal(t, StateDone, rotator.State())

	require.Equal(t, 2, f.envelopeCount())

	// Both remaining members unwrap the same new key and decrypt every secret.
	var newKey []byte
	for _, u := range []testUser{u1, u2} {
		env, ok := f.latestEnvelope(u.id)
		require.True(t, ok, "user %d must hold an envelope", u.id)
		assert.Equal(t, int64(2), env.KeyVersion)

		key, err := crypto.UnwrapOrgKey(env.Data, u.material.EncryptionKey)
		require.NoError(t, err)
		if newKey == nil {
			newKey = key
		} else {
			assert.Equal(t, newKey, key, "all envelopes must unwrap to the same key")
		}
	}
	assert.NotEqual(t, oldKey, newKey)

	for _, record := range f.secrets {
		assert.Equal(t, int64(2), record.KeyVersion)

		creds, err := crypto.DecryptCredentials(record.Data, newKey)
		require.NoError(t, err)
		assert.NotEmpty(t, creds.Account)

		// u3's retained old key is useless against the rewritten ciphertexts.
		_, err = crypto.DecryptCredentials(record.Data, oldKey)
		assert.Error(t, err)
	}
}

func TestInitialDistribution(t *testing.T) {
	u1 := makeUser(t, 1)
	u2 := makeUser(t, 2)

	f := newFakeServer()
	f.recipients = []Recipient{
		{UserID: u1.id, PublicKey: u1.keys.PublicKey},
		{UserID: u2.id, PublicKey: u2.keys.PublicKey},
	}

	rotator := newRotator(f, u1, DefaultPageSize)
	require.NoError(t, rotator.Run(context.Background(), 1, true))

	require.Equal(t, 2, f.envelopeCount())
	env1, ok := f.latestEnvelope(u1.id)
	require.True(t, ok)
	env2, ok := f.latestEnvelope(u2.id)
	require.True(t, ok)
	key1, err := crypto.UnwrapOrgKey(env1.Data, u1.material.EncryptionKey)
	require.NoError(t, err)
	key2, err := crypto.UnwrapOrgKey(env2.Data, u2.material.EncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

// The orchestrator must issue exactly ceil(N/P) secret submissions, including
// when N is an exact multiple of P.
func TestPaginationTermination(t *testing.T) {
	cases := []struct {
		n, pageSize    int
		wantSubmits    int
		wantMinFetches int
	}{
		{n: 0, pageSize: 10, wantSubmits: 0, wantMinFetches: 1},
		{n: 5, pageSize: 10, wantSubmits: 1, wantMinFetches: 1},
		{n: 10, pageSize: 10, wantSubmits: 1, wantMinFetches: 1},
		{n: 20, pageSize: 10, wantSubmits: 2, wantMinFetches: 2},
		{n: 21, pageSize: 10, wantSubmits: 3, wantMinFetches: 3},
		{n: 9, pageSize: 3, wantSubmits: 3, wantMinFetches: 3},
	}

	u1 := makeUser(t, 1)
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d_p=%d", tc.n, tc.pageSize), func(t *testing.T) {
			orgKey, err := crypto.GenerateOrgKey()
			require.NoError(t, err)

			f := newFakeServer()
			seed(t, f, orgKey, []testUser{u1}, tc.n)

			rotator := newRotator(f, u1, tc.pageSize)
			require.NoError(t, rotator.Run(context.Background(), 1, false))

			assert.Equal(t, tc.wantSubmits, f.submitSecretCalls, "secret submissions")
			assert.Equal(t, tc.wantMinFetches, f.fetchSecretCalls, "secret fetches")
		})
	}
}

func TestSubmissionFailureAbortsRun(t *testing.T) {
	u1 := makeUser(t, 1)
	orgKey, err := crypto.GenerateOrgKey()
	require.NoError(t, err)

	f := newFakeServer()
	seed(t, f, orgKey, []testUser{u1}, 25)
	f.failSecretSubmitOn = 2

	rotator := newRotator(f, u1, 10)
	err = rotator.Run(context.Background(), 1, false)
	require.Error(t, err)
	assert.Equal(t, StateFailed, rotator.State())

	// The loop stopped at the failing page instead of skipping past it.
	assert.Equal(t, 2, f.submitSecretCalls)
}

// A rotation that fails part-way converges after a full retry: the failed
// run left its own envelope behind and tagged the rows it rewrote, so the
// retry can decrypt every row it encounters.
func TestRetryAfterPartialFailureConverges(t *testing.T) {
	u1 := makeUser(t, 1)
	u2 := makeUser(t, 2)

	oldKey, err := crypto.GenerateOrgKey()
	require.NoError(t, err)

	f := newFakeServer()
	seed(t, f, oldKey, []testUser{u1, u2}, 15)
	f.failSecretSubmitOn = 2

	rotator := newRotator(f, u1, 10)
	require.Error(t, rotator.Run(context.Background(), 1, false))
	assert.Equal(t, StateFailed, rotator.State())

	// The interrupted run left a mixed state: page one under key version 2,
	// page two still under version 1, and envelopes for both versions held
	// by u1.
	versions := map[int64]int{}
	for _, record := range f.secrets {
		versions[record.KeyVersion]++
	}
	assert.Equal(t, map[int64]int{1: 5, 2: 10}, versions)

	// Retrying the whole rotation with the fault cleared converges to a
	// single key version everywhere.
	f.failSecretSubmitOn = 0
	retry := newRotator(f, u1, 10)
	require.NoError(t, retry.Run(context.Background(), 1, false))

	require.Equal(t, 2, f.envelopeCount())
	env, ok := f.latestEnvelope(u1.id)
	require.True(t, ok)
	assert.Equal(t, int64(3), env.KeyVersion)

	finalKey, err := crypto.UnwrapOrgKey(env.Data, u1.material.EncryptionKey)
	require.NoError(t, err)
	for _, record := range f.secrets {
		assert.Equal(t, int64(3), record.KeyVersion)
		_, err := crypto.DecryptCredentials(record.Data, finalKey)
		assert.NoError(t, err)
	}
}

func TestCursor(t *testing.T) {
	c := NewCursor(10)
	assert.False(t, c.Done(), "cursor must not report done before the first fetch")

	c.Advance(10, 20)
	assert.False(t, c.Done())
	assert.Equal(t, 2, c.Page)

	c.Advance(10, 20)
	assert.True(t, c.Done())
}

func TestCursorExactMultiple(t *testing.T) {
	c := NewCursor(10)
	c.Advance(10, 10)
	assert.True(t, c.Done(), "a full page covering the total must terminate")
}

func TestCursorEmpty(t *testing.T) {
	c := NewCursor(10)
	c.Advance(0, 0)
	assert.True(t, c.Done())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "failed", StateFailed.String())
}
