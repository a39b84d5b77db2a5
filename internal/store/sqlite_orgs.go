package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateOrganization inserts a new organization at key version 1. The caller
// distributes initial envelopes separately.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, name, description string) (*Organization, error) {
	org := &Organization{Name: name, Description: description, KeyVersion: 1}
	var createdAt string
	err := s.writeDB.QueryRowContext(ctx,
		`INSERT INTO organizations (name, description, key_version) VALUES (?, ?, 1)
		 RETURNING org_id, created_at`,
		name, description,
	).Scan(&org.ID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("creating organization: %w", err)
	}
	org.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return org, nil
}

// GetOrganization returns the organization with the given id.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	var createdAt string
	err := s.readDB.QueryRowContext(ctx,
		`SELECT org_id, name, description, key_version, created_at
		 FROM organizations WHERE org_id = ?`, id,
	).Scan(&org.ID, &org.Name, &org.Description, &org.KeyVersion, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	org.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &org, nil
}

// ListOrganizations returns one page of organizations ordered by id, plus
// the total count.
func (s *SQLiteStore) ListOrganizations(ctx context.Context, page, pageSize int) ([]Organization, int, error) {
	var total int
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting organizations: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT org_id, name, description, key_version, created_at
		 FROM organizations ORDER BY org_id LIMIT ? OFFSET ?`,
		pageSize, offset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("listing organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]Organization, 0, pageSize)
	for rows.Next() {
		var org Organization
		var createdAt string
		if err := rows.Scan(&org.ID, &org.Name, &org.Description, &org.KeyVersion, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scanning organization: %w", err)
		}
		org.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing created_at: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating organizations: %w", err)
	}
	return orgs, total, nil
}

// UpdateOrganization rewrites name and description.
func (s *SQLiteStore) UpdateOrganization(ctx context.Context, id int64, name, description string) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE organizations SET name = ?, description = ? WHERE org_id = ?`,
		name, description, id)
	if err != nil {
		return fmt.Errorf("updating organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return ErrOrgNotFound
	}
	return nil
}

// DeleteOrganization removes the organization. Members, envelopes and
// secrets go with it via foreign keys.
func (s *SQLiteStore) DeleteOrganization(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM organizations WHERE org_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return ErrOrgNotFound
	}
	return nil
}

// BumpKeyVersion increments the organization's key version and returns the
// new value. Each rotation claims its version here before writing anything;
// the claimed version then tags every row the rotation produces, so a slower
// concurrent rotation loses to the higher version rather than corrupting it.
func (s *SQLiteStore) BumpKeyVersion(ctx context.Context, orgID int64) (int64, error) {
	var version int64
	err := s.writeDB.QueryRowContext(ctx,
		`UPDATE organizations SET key_version = key_version + 1
		 WHERE org_id = ? RETURNING key_version`, orgID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrOrgNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bumping key version: %w", err)
	}
	return version, nil
}

// AddMember grants a user visibility of an organization. Adding an existing
// member is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, userID, orgID int64) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO members (user_id, org_id) VALUES (?, ?)
		 ON CONFLICT (user_id, org_id) DO NOTHING`,
		userID, orgID)
	if err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

// RemoveMember revokes membership and deletes the user's envelopes for the
// organization in the same transaction, so the two can never diverge.
func (s *SQLiteStore) RemoveMember(ctx context.Context, userID, orgID int64) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM members WHERE user_id = ? AND org_id = ?`, userID, orgID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking removal: %w", err)
	}
	if n == 0 {
		return ErrNotMember
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM envelopes WHERE user_id = ? AND org_id = ?`, userID, orgID); err != nil {
		return fmt.Errorf("removing envelopes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the organization.
func (s *SQLiteStore) IsMember(ctx context.Context, userID, orgID int64) (bool, error) {
	var one int
	err := s.readDB.QueryRowContext(ctx,
		`SELECT 1 FROM members WHERE user_id = ? AND org_id = ?`, userID, orgID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// ListUserMemberships returns every membership of one user.
func (s *SQLiteStore) ListUserMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT entry_id, user_id, org_id FROM members WHERE user_id = ? ORDER BY org_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.EntryID, &m.UserID, &m.OrgID); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}
	return memberships, nil
}

// ListRecipients returns one page of users entitled to the organization's
// key: its members plus every administrator, ordered by user id. This is
// the recipient set a rotation walks when rewrapping envelopes.
func (s *SQLiteStore) ListRecipients(ctx context.Context, orgID int64, page, pageSize int) ([]Recipient, int, error) {
	const from = `FROM users u
		 WHERE u.is_admin = 1
		    OR EXISTS (SELECT 1 FROM members m WHERE m.user_id = u.user_id AND m.org_id = ?)`

	var total int
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) `+from, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting recipients: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT u.user_id, u.public_key `+from+` ORDER BY u.user_id LIMIT ? OFFSET ?`,
		orgID, pageSize, offset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("listing recipients: %w", err)
	}
	defer rows.Close()

	recipients := make([]Recipient, 0, pageSize)
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.PublicKey); err != nil {
			return nil, 0, fmt.Errorf("scanning recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating recipients: %w", err)
	}
	return recipients, total, nil
}
