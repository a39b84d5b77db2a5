package store

import (
	"context"
	"database/sql"
	"fmt"
)

const secretColumns = `pass_id, org_id, name, description, url, data, sign, signer_id, key_version`

// CreateSecret inserts a new secret record.
func (s *SQLiteStore) CreateSecret(ctx context.Context, record *SecretRecord) (*SecretRecord, error) {
	err := s.writeDB.QueryRowContext(ctx,
		`INSERT INTO secrets (org_id, name, description, url, data, sign, signer_id, key_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING pass_id`,
		record.OrgID, record.Name, record.Description, record.URL,
		record.Data, record.Sign, record.SignerID, record.KeyVersion,
	).Scan(&record.PassID)
	if err != nil {
		return nil, fmt.Errorf("creating secret: %w", err)
	}
	return record, nil
}

// UpdateSecret rewrites a secret record in place.
func (s *SQLiteStore) UpdateSecret(ctx context.Context, record *SecretRecord) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE secrets SET name = ?, description = ?, url = ?, data = ?, sign = ?,
			signer_id = ?, key_version = ?
		 WHERE pass_id = ?`,
		record.Name, record.Description, record.URL, record.Data, record.Sign,
		record.SignerID, record.KeyVersion, record.PassID)
	if err != nil {
		return fmt.Errorf("updating secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return ErrSecretNotFound
	}
	return nil
}

// UpdateSecrets rewrites the payload of a batch of records in one
// transaction. It only touches data, sign, signer and key version; this is
// the write path for one re-encryption page of a rotation, so all rows land
// or none do.
func (s *SQLiteStore) UpdateSecrets(ctx context.Context, records []SecretRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE secrets SET data = ?, sign = ?, signer_id = ?, key_version = ?
		 WHERE pass_id = ?`)
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		res, err := stmt.ExecContext(ctx,
			record.Data, record.Sign, record.SignerID, record.KeyVersion, record.PassID)
		if err != nil {
			return fmt.Errorf("updating secret %d: %w", record.PassID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking update: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("secret %d: %w", record.PassID, ErrSecretNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing updates: %w", err)
	}
	return nil
}

// DeleteSecret removes a secret record.
func (s *SQLiteStore) DeleteSecret(ctx context.Context, passID int64) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM secrets WHERE pass_id = ?`, passID)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return ErrSecretNotFound
	}
	return nil
}

// GetSecret returns one secret record by id.
func (s *SQLiteStore) GetSecret(ctx context.Context, passID int64) (*SecretRecord, error) {
	var r SecretRecord
	err := s.readDB.QueryRowContext(ctx,
		`SELECT `+secretColumns+` FROM secrets WHERE pass_id = ?`, passID,
	).Scan(&r.PassID, &r.OrgID, &r.Name, &r.Description, &r.URL,
		&r.Data, &r.Sign, &r.SignerID, &r.KeyVersion)
	if err == sql.ErrNoRows {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting secret: %w", err)
	}
	return &r, nil
}

// ListOrgSecrets returns one page of an organization's secret records
// ordered by id, plus the total count. Stable ordering keeps a paged
// rotation from skipping or repeating rows between requests.
func (s *SQLiteStore) ListOrgSecrets(ctx context.Context, orgID int64, page, pageSize int) ([]SecretRecord, int, error) {
	var total int
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM secrets WHERE org_id = ?`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting secrets: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+secretColumns+` FROM secrets WHERE org_id = ?
		 ORDER BY pass_id LIMIT ? OFFSET ?`,
		orgID, pageSize, offset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("listing secrets: %w", err)
	}
	defer rows.Close()

	records := make([]SecretRecord, 0, pageSize)
	for rows.Next() {
		var r SecretRecord
		if err := rows.Scan(&r.PassID, &r.OrgID, &r.Name, &r.Description, &r.URL,
			&r.Data, &r.Sign, &r.SignerID, &r.KeyVersion); err != nil {
			return nil, 0, fmt.Errorf("scanning secret: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating secrets: %w", err)
	}
	return records, total, nil
}
