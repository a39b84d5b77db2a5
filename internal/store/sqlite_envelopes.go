package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertEnvelope writes a wrapped key for one holder at one key version.
// A retried rotation overwrites its own previous attempt for the same
// version instead of erroring. Writes older than the organization's current
// key version are rejected with ErrStaleKeyVersion.
func (s *SQLiteStore) UpsertEnvelope(ctx context.Context, env *Envelope) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT key_version FROM organizations WHERE org_id = ?`, env.OrgID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrOrgNotFound
	}
	if err != nil {
		return fmt.Errorf("reading key version: %w", err)
	}
	if env.KeyVersion < current {
		return ErrStaleKeyVersion
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO envelopes (user_id, org_id, data, sign, signer_id, key_version)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, org_id, key_version)
		 DO UPDATE SET data = excluded.data, sign = excluded.sign, signer_id = excluded.signer_id
		 RETURNING secret_id`,
		env.UserID, env.OrgID, env.Data, env.Sign, env.SignerID, env.KeyVersion,
	).Scan(&env.SecretID)
	if err != nil {
		return fmt.Errorf("upserting envelope: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing envelope: %w", err)
	}
	return nil
}

// GetEnvelopes returns every envelope one user holds for an organization,
// newest key version first. More than one row only exists inside the window
// left by an interrupted rotation.
func (s *SQLiteStore) GetEnvelopes(ctx context.Context, userID, orgID int64) ([]Envelope, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT secret_id, user_id, org_id, data, sign, signer_id, key_version
		 FROM envelopes WHERE user_id = ? AND org_id = ?
		 ORDER BY key_version DESC`,
		userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("getting envelopes: %w", err)
	}
	defer rows.Close()

	envelopes, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, ErrNoEnvelope
	}
	return envelopes, nil
}

// ListOrgEnvelopes returns one page of all envelopes for an organization,
// plus the total count.
func (s *SQLiteStore) ListOrgEnvelopes(ctx context.Context, orgID int64, page, pageSize int) ([]Envelope, int, error) {
	var total int
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM envelopes WHERE org_id = ?`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting envelopes: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT secret_id, user_id, org_id, data, sign, signer_id, key_version
		 FROM envelopes WHERE org_id = ?
		 ORDER BY user_id, key_version LIMIT ? OFFSET ?`,
		orgID, pageSize, offset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("listing envelopes: %w", err)
	}
	defer rows.Close()

	envelopes, err := scanEnvelopes(rows)
	if err != nil {
		return nil, 0, err
	}
	return envelopes, total, nil
}

// DeleteEnvelopes removes all of one user's envelopes for an organization.
func (s *SQLiteStore) DeleteEnvelopes(ctx context.Context, userID, orgID int64) error {
	_, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM envelopes WHERE user_id = ? AND org_id = ?`, userID, orgID)
	if err != nil {
		return fmt.Errorf("deleting envelopes: %w", err)
	}
	return nil
}

// PruneStaleEnvelopes deletes every envelope older than the given key
// version and returns the count. Called once a rotation has fully landed.
func (s *SQLiteStore) PruneStaleEnvelopes(ctx context.Context, orgID, keyVersion int64) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM envelopes WHERE org_id = ? AND key_version < ?`, orgID, keyVersion)
	if err != nil {
		return 0, fmt.Errorf("pruning envelopes: %w", err)
	}
	return res.RowsAffected()
}

// HasEnvelope reports whether the user holds any envelope for the
// organization.
func (s *SQLiteStore) HasEnvelope(ctx context.Context, userID, orgID int64) (bool, error) {
	var one int
	err := s.readDB.QueryRowContext(ctx,
		`SELECT 1 FROM envelopes WHERE user_id = ? AND org_id = ? LIMIT 1`,
		userID, orgID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking envelope: %w", err)
	}
	return true, nil
}

func scanEnvelopes(rows *sql.Rows) ([]Envelope, error) {
	envelopes := make([]Envelope, 0)
	for rows.Next() {
		var e Envelope
		if err := rows.Scan(&e.SecretID, &e.UserID, &e.OrgID, &e.Data, &e.Sign, &e.SignerID, &e.KeyVersion); err != nil {
			return nil, fmt.Errorf("scanning envelope: %w", err)
		}
		envelopes = append(envelopes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating envelopes: %w", err)
	}
	return envelopes, nil
}
