// Package rotation implements the replacement of an organization's symmetric
// data key: every stored secret is re-encrypted and the new key is re-wrapped
// for every remaining authorized member. The orchestrator is pure protocol --
// it talks to the server only through the pager interfaces, so it can be
// driven against an in-memory fake in tests and against the HTTP client in
// production.
package rotation

import (
	"context"
	"fmt"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// Envelope is one member's wrapped copy of an organization key, signed by
// the member or admin who produced it.
type Envelope struct {
	UserID     int64  `json:"user_id"`
	OrgID      int64  `json:"org_id"`
	Data       string `json:"data"`
	Sign       string `json:"sign"`
	KeyVersion int64  `json:"key_version"`
}

// SecretRecord is a stored secret: cleartext metadata plus the encrypted
// credential payload and its detached signature.
type SecretRecord struct {
	PassID      int64  `json:"pass_id"`
	OrgID       int64  `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Data        string `json:"data"`
	Sign        string `json:"sign"`
	KeyVersion  int64  `json:"key_version"`
}

// Recipient is a user currently authorized to hold the organization key.
type Recipient struct {
	UserID    int64  `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// SecretPager fetches and writes secret records page by page.
type SecretPager interface {
	FetchSecrets(ctx context.Context, orgID int64, page, pageSize int) (records []SecretRecord, total int, err error)
	SubmitSecrets(ctx context.Context, records []SecretRecord) error
}

// EnvelopePager writes envelope batches and removes envelopes left behind by
// previous key versions.
type EnvelopePager interface {
	SubmitEnvelopes(ctx context.Context, envelopes []Envelope) error
	PruneStale(ctx context.Context, orgID, keyVersion int64) error
}

// Directory answers who currently holds access and hands out the caller's
// own envelopes and the next key version.
type Directory interface {
	// FetchRecipients pages through the users currently authorized for the
	// organization (members plus administrators).
	FetchRecipients(ctx context.Context, orgID int64, page, pageSize int) (recipients []Recipient, total int, err error)
	// OwnEnvelopes returns all of the caller's live envelopes for the
	// organization. More than one exists only inside the window left by an
	// interrupted rotation, one per key version still referenced by rows.
	OwnEnvelopes(ctx context.Context, orgID int64) ([]Envelope, error)
	// BeginRotation allocates the next key version for the organization.
	// Writes carrying an older version are rejected, so two concurrent
	// rotations cannot interleave rows from different keys.
	BeginRotation(ctx context.Context, orgID int64) (keyVersion int64, err error)
}

// State is the orchestrator's current phase.
type State int

const (
	StateIdle State = iota
	StateGenerateKey
	StateReencryptSecrets
	StateRewrapEnvelopes
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerateKey:
		return "generate-key"
	case StateReencryptSecrets:
		return "reencrypt-secrets"
	case StateRewrapEnvelopes:
		return "rewrap-envelopes"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Rotator drives one organization's key rotation. Rotations for different
// organizations are independent; a single Rotator must not be shared.
type Rotator struct {
	Secrets   SecretPager
	Envelopes EnvelopePager
	Directory Directory

	// Material is the acting user's unlocked key set: the encryption key
	// recovers the old organization key and the signing key signs every
	// rewritten row.
	Material *crypto.KeyMaterial
	UserID   int64
	PageSize int

	state State
}

// State returns the orchestrator's current phase.
func (r *Rotator) State() State {
	return r.state
}

// Run replaces the organization's key end to end. With initial set, this is
// the degenerate rotation at organization creation: there is no previous key
// and no secrets, only the first distribution of envelopes.
//
// Any page submission failure aborts the run, and re-running the whole
// rotation afterwards converges: the caller's own envelope for the new key is
// published before any secret is rewritten, and every row carries the version
// of the key it is under, so a retry can always recover the key for every row
// it encounters. Stale envelopes are pruned only once all rows are current.
func (r *Rotator) Run(ctx context.Context, orgID int64, initial bool) error {
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	r.state = StateGenerateKey
	newKey, err := crypto.GenerateOrgKey()
	if err != nil {
		return r.fail(err)
	}
	defer crypto.Zero(newKey)

	keyVersion, err := r.Directory.BeginRotation(ctx, orgID)
	if err != nil {
		return r.fail(fmt.Errorf("beginning rotation: %w", err))
	}

	if !initial {
		// Publish our own envelope for the new key before touching any
		// secret. If the run dies mid-way, the rows already rewritten stay
		// recoverable through this envelope on the next attempt.
		selfWrapped, err := crypto.WrapOrgKey(newKey, &r.Material.EncryptionKey.PublicKey)
		if err != nil {
			return r.fail(err)
		}
		self := Envelope{
			UserID:     r.UserID,
			OrgID:      orgID,
			Data:       selfWrapped,
			Sign:       crypto.SignDetached(selfWrapped, r.Material.SigningKey),
			KeyVersion: keyVersion,
		}
		if err := r.Envelopes.SubmitEnvelopes(ctx, []Envelope{self}); err != nil {
			return r.fail(fmt.Errorf("submitting own envelope: %w", err))
		}

		keyring, err := r.unwrapKeyring(ctx, orgID)
		if err != nil {
			return r.fail(err)
		}
		keyring[keyVersion] = newKey
		err = r.reencryptSecrets(ctx, orgID, keyring, newKey, keyVersion, pageSize)
		for version, key := range keyring {
			if version != keyVersion {
				crypto.Zero(key)
			}
		}
		if err != nil {
			return r.fail(err)
		}
	}

	if err := r.rewrapEnvelopes(ctx, orgID, newKey, keyVersion, pageSize); err != nil {
		return r.fail(err)
	}

	r.state = StateDone
	return nil
}

// unwrapKeyring recovers every organization key the caller holds an envelope
// for, indexed by key version. Outside an interrupted rotation this is a
// single entry.
func (r *Rotator) unwrapKeyring(ctx context.Context, orgID int64) (map[int64][]byte, error) {
	envelopes, err := r.Directory.OwnEnvelopes(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("fetching own envelopes: %w", err)
	}
	keyring := make(map[int64][]byte, len(envelopes))
	for _, env := range envelopes {
		key, err := crypto.UnwrapOrgKey(env.Data, r.Material.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("unwrapping key version %d: %w", env.KeyVersion, err)
		}
		keyring[env.KeyVersion] = key
	}
	return keyring, nil
}

// reencryptSecrets pages through the organization's secrets, decrypting each
// record under the key version it carries and rewriting it under the new one.
// Page n+1 is not fetched until page n's submission has completed.
func (r *Rotator) reencryptSecrets(ctx context.Context, orgID int64, keyring map[int64][]byte, newKey []byte, keyVersion int64, pageSize int) error {
	r.state = StateReencryptSecrets
	cursor := NewCursor(pageSize)

	for !cursor.Done() {
		records, total, err := r.Secrets.FetchSecrets(ctx, orgID, cursor.Page, cursor.PageSize)
		if err != nil {
			return fmt.Errorf("fetching secrets page %d: %w", cursor.Page, err)
		}

		rewritten := make([]SecretRecord, 0, len(records))
		for _, record := range records {
			oldKey, ok := keyring[record.KeyVersion]
			if !ok {
				return fmt.Errorf("secret %d: no envelope for key version %d", record.PassID, record.KeyVersion)
			}
			creds, err := crypto.DecryptCredentials(record.Data, oldKey)
			if err != nil {
				return fmt.Errorf("decrypting secret %d: %w", record.PassID, err)
			}
			data, err := crypto.EncryptCredentials(creds, newKey)
			if err != nil {
				return fmt.Errorf("re-encrypting secret %d: %w", record.PassID, err)
			}
			record.Data = data
			record.Sign = crypto.SignDetached(data, r.Material.SigningKey)
			record.KeyVersion = keyVersion
			rewritten = append(rewritten, record)
		}

		if len(rewritten) > 0 {
			if err := r.Secrets.SubmitSecrets(ctx, rewritten); err != nil {
				return fmt.Errorf("submitting secrets page %d: %w", cursor.Page, err)
			}
		}
		cursor.Advance(len(records), total)
	}
	return nil
}

// rewrapEnvelopes pages through the currently authorized recipients and wraps
// the new key for each, then prunes envelopes still carrying an older key
// version.
func (r *Rotator) rewrapEnvelopes(ctx context.Context, orgID int64, newKey []byte, keyVersion int64, pageSize int) error {
	r.state = StateRewrapEnvelopes
	cursor := NewCursor(pageSize)

	for !cursor.Done() {
		recipients, total, err := r.Directory.FetchRecipients(ctx, orgID, cursor.Page, cursor.PageSize)
		if err != nil {
			return fmt.Errorf("fetching recipients page %d: %w", cursor.Page, err)
		}

		envelopes := make([]Envelope, 0, len(recipients))
		for _, recipient := range recipients {
			pub, err := crypto.ParsePublicKey(recipient.PublicKey)
			if err != nil {
				return fmt.Errorf("recipient %d: %w", recipient.UserID, err)
			}
			wrapped, err := crypto.WrapOrgKey(newKey, pub)
			if err != nil {
				return fmt.Errorf("wrapping key for recipient %d: %w", recipient.UserID, err)
			}
			envelopes = append(envelopes, Envelope{
				UserID:     recipient.UserID,
				OrgID:      orgID,
				Data:       wrapped,
				Sign:       crypto.SignDetached(wrapped, r.Material.SigningKey),
				KeyVersion: keyVersion,
			})
		}

		if len(envelopes) > 0 {
			if err := r.Envelopes.SubmitEnvelopes(ctx, envelopes); err != nil {
				return fmt.Errorf("submitting envelopes page %d: %w", cursor.Page, err)
			}
		}
		cursor.Advance(len(recipients), total)
	}

	if err := r.Envelopes.PruneStale(ctx, orgID, keyVersion); err != nil {
		return fmt.Errorf("pruning stale envelopes: %w", err)
	}
	return nil
}

func (r *Rotator) fail(err error) error {
	r.state = StateFailed
	return err
}
