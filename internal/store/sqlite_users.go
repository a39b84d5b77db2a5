package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

const userColumns = `user_id, email, first_name, last_name, verifier_hash, salt,
	public_key, private_key, sign_public_key, sign_private_key,
	is_admin, is_suspended, last_login, created_at`

// scanUser reads one user row. last_login is nullable.
func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var lastLogin sql.NullString
	var createdAt string
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.VerifierHash, &u.Salt,
		&u.PublicKey, &u.WrappedPrivateKey, &u.SignPublicKey, &u.WrappedSignPrivateKey,
		&u.IsAdmin, &u.IsSuspended, &lastLogin, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t, err := time.Parse(timeLayout, lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_login: %w", err)
		}
		u.LastLogin = &t
	}
	u.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new account. The caller supplies the verifier hash and
// all key material already wrapped.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	err := s.writeDB.QueryRowContext(ctx,
		`INSERT INTO users (email, first_name, last_name, verifier_hash, salt,
			public_key, private_key, sign_public_key, sign_private_key, is_admin)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING user_id`,
		user.Email, user.FirstName, user.LastName, user.VerifierHash, user.Salt,
		user.PublicKey, user.WrappedPrivateKey, user.SignPublicKey, user.WrappedSignPrivateKey,
		user.IsAdmin,
	).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns the user with the given email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return user, nil
}

// GetUserByID returns the user with the given id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return user, nil
}

// ListUsers returns one page of users ordered by id, plus the total count.
func (s *SQLiteStore) ListUsers(ctx context.Context, page, pageSize int) ([]User, int, error) {
	var total int
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY user_id LIMIT ? OFFSET ?`,
		pageSize, offset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, pageSize)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating users: %w", err)
	}
	return users, total, nil
}

// ListAdmins returns every administrator's id and public encryption key.
// Used for the initial key distribution at organization creation.
func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]Recipient, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT user_id, public_key FROM users WHERE is_admin = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	defer rows.Close()

	admins := make([]Recipient, 0)
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.PublicKey); err != nil {
			return nil, fmt.Errorf("scanning admin: %w", err)
		}
		admins = append(admins, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admins: %w", err)
	}
	return admins, nil
}

// UpdateUser rewrites the administrative fields of an account. Key material
// is untouched; it only ever changes through the owner's own re-wrap.
func (s *SQLiteStore) UpdateUser(ctx context.Context, id int64, email, firstName, lastName string, isAdmin, isSuspended bool) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE users SET email = ?, first_name = ?, last_name = ?, is_admin = ?, is_suspended = ?
		 WHERE user_id = ?`,
		email, firstName, lastName, isAdmin, isSuspended, id)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserKeys replaces the account's verifier hash, KDF salt and wrapped
// private keys in one statement. Used by password change; the public keys
// stay as registered.
func (s *SQLiteStore) UpdateUserKeys(ctx context.Context, id int64, verifierHash, salt, wrappedPrivateKey, wrappedSignPrivateKey string) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE users SET verifier_hash = ?, salt = ?, private_key = ?, sign_private_key = ?
		 WHERE user_id = ?`,
		verifierHash, salt, wrappedPrivateKey, wrappedSignPrivateKey, id)
	if err != nil {
		return fmt.Errorf("updating user keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the account. Memberships, envelopes and sessions go
// with it via foreign keys.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchLastLogin records a successful login.
func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE users SET last_login = datetime('now') WHERE user_id = ?`, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// CreateSession stores a hashed session token.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at) VALUES (?, ?, ?)`,
		tokenHash, userID, expiresAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetUserBySession resolves a hashed token to its user, if the session has
// not expired and the account is not suspended.
func (s *SQLiteStore) GetUserBySession(ctx context.Context, tokenHash string) (*User, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE user_id = (
			SELECT user_id FROM sessions
			WHERE token_hash = ? AND expires_at > datetime('now')
		 ) AND is_suspended = 0`,
		tokenHash)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by session: %w", err)
	}
	return user, nil
}

// DeleteSession removes a session by hashed token.
func (s *SQLiteStore) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.writeDB.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes expired sessions and returns the count.
func (s *SQLiteStore) CleanExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("cleaning sessions: %w", err)
	}
	return res.RowsAffected()
}
