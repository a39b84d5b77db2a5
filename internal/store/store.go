// Package store persists users, organizations, memberships, envelopes and
// secret records. Everything sensitive arrives pre-encrypted: wrapped private
// keys, wrapped organization keys and credential ciphertexts are stored
// exactly as received and never interpreted.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound indicates that the referenced user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrOrgNotFound indicates that the referenced organization does not exist.
var ErrOrgNotFound = errors.New("organization not found")

// ErrNoEnvelope indicates that the user holds no envelope for the
// organization and therefore has no decrypt capability.
var ErrNoEnvelope = errors.New("no envelope for organization")

// ErrNotMember indicates that the user is not a member of the organization.
var ErrNotMember = errors.New("not an organization member")

// ErrStaleKeyVersion indicates a write carrying an outdated key version,
// i.e. a rotation racing against a newer one.
var ErrStaleKeyVersion = errors.New("stale key version")

// ErrSecretNotFound indicates that the referenced secret record does not exist.
var ErrSecretNotFound = errors.New("secret record not found")

// User is an account row. Private keys are stored wrapped under the user's
// password-derived key; the verifier hash is an Argon2id hash of the
// client-supplied verifier, never of the password itself.
type User struct {
	ID                    int64
	Email                 string
	FirstName             string
	LastName              string
	VerifierHash          string
	Salt                  string
	PublicKey             string
	WrappedPrivateKey     string
	SignPublicKey         string
	WrappedSignPrivateKey string
	IsAdmin               bool
	IsSuspended           bool
	LastLogin             *time.Time
	CreatedAt             time.Time
}

// Organization groups secret records under one symmetric data key, tracked
// by a monotonic key version.
type Organization struct {
	ID          int64
	Name        string
	Description string
	KeyVersion  int64
	CreatedAt   time.Time
}

// Membership associates a user with an organization. It grants visibility
// only; decrypt capability comes exclusively from an envelope.
type Membership struct {
	EntryID int64
	UserID  int64
	OrgID   int64
}

// Envelope is one member's wrapped copy of an organization key together with
// the detached signature of whoever wrapped it.
type Envelope struct {
	SecretID   int64
	UserID     int64
	OrgID      int64
	Data       string
	Sign       string
	SignerID   int64
	KeyVersion int64
}

// SecretRecord is a stored secret: cleartext metadata, the encrypted
// credential payload and its detached signature.
type SecretRecord struct {
	PassID      int64
	OrgID       int64
	Name        string
	Description string
	URL         string
	Data        string
	Sign        string
	SignerID    int64
	KeyVersion  int64
}

// Recipient is a user currently authorized to hold an organization's key.
type Recipient struct {
	UserID    int64
	PublicKey string
}

// Store is the persistence interface consumed by the server.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context, page, pageSize int) ([]User, int, error)
	ListAdmins(ctx context.Context) ([]Recipient, error)
	UpdateUser(ctx context.Context, id int64, email, firstName, lastName string, isAdmin, isSuspended bool) error
	UpdateUserKeys(ctx context.Context, id int64, verifierHash, salt, wrappedPrivateKey, wrappedSignPrivateKey string) error
	DeleteUser(ctx context.Context, id int64) error
	TouchLastLogin(ctx context.Context, id int64) error

	// Sessions
	CreateSession(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	GetUserBySession(ctx context.Context, tokenHash string) (*User, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	CleanExpiredSessions(ctx context.Context) (int64, error)

	// Organizations
	CreateOrganization(ctx context.Context, name, description string) (*Organization, error)
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	ListOrganizations(ctx context.Context, page, pageSize int) ([]Organization, int, error)
	UpdateOrganization(ctx context.Context, id int64, name, description string) error
	DeleteOrganization(ctx context.Context, id int64) error
	BumpKeyVersion(ctx context.Context, orgID int64) (int64, error)

	// Memberships
	AddMember(ctx context.Context, userID, orgID int64) error
	RemoveMember(ctx context.Context, userID, orgID int64) error
	IsMember(ctx context.Context, userID, orgID int64) (bool, error)
	ListUserMemberships(ctx context.Context, userID int64) ([]Membership, error)
	ListRecipients(ctx context.Context, orgID int64, page, pageSize int) ([]Recipient, int, error)

	// Envelopes
	UpsertEnvelope(ctx context.Context, env *Envelope) error
	GetEnvelopes(ctx context.Context, userID, orgID int64) ([]Envelope, error)
	ListOrgEnvelopes(ctx context.Context, orgID int64, page, pageSize int) ([]Envelope, int, error)
	DeleteEnvelopes(ctx context.Context, userID, orgID int64) error
	PruneStaleEnvelopes(ctx context.Context, orgID, keyVersion int64) (int64, error)
	HasEnvelope(ctx context.Context, userID, orgID int64) (bool, error)

	// Secrets
	CreateSecret(ctx context.Context, record *SecretRecord) (*SecretRecord, error)
	UpdateSecret(ctx context.Context, record *SecretRecord) error
	UpdateSecrets(ctx context.Context, records []SecretRecord) error
	DeleteSecret(ctx context.Context, passID int64) error
	GetSecret(ctx context.Context, passID int64) (*SecretRecord, error)
	ListOrgSecrets(ctx context.Context, orgID int64, page, pageSize int) ([]SecretRecord, int, error)

	Ping(ctx context.Context) error
	Close() error
}
