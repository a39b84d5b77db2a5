// Package client is the HTTP API client used by the CLI and the rotation
// orchestrator. All cryptography happens in the caller; the client moves
// opaque blobs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsConflict reports whether the error is a stale key version rejection.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// User is an account as the server reports it, wrapped private keys included.
type User struct {
	ID                    int64  `json:"user_id"`
	Email                 string `json:"email"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	IsAdmin               bool   `json:"is_admin"`
	IsSuspended           bool   `json:"is_suspended"`
	Salt                  string `json:"salt"`
	PublicKey             string `json:"public_key"`
	WrappedPrivateKey     string `json:"private_key"`
	SignPublicKey         string `json:"sign_public_key"`
	WrappedSignPrivateKey string `json:"sign_private_key"`
}

// Keys converts the account's key fields into the client-side unlock shape.
func (u *User) Keys() *crypto.UserKeys {
	return &crypto.UserKeys{
		PublicKey:          u.PublicKey,
		WrappedPrivateKey:  u.WrappedPrivateKey,
		SignPublicKey:      u.SignPublicKey,
		WrappedSignPrivKey: u.WrappedSignPrivateKey,
		Salt:               u.Salt,
	}
}

// Session is a login or registration result.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Organization mirrors the server's organization payload.
type Organization struct {
	ID          int64  `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	KeyVersion  int64  `json:"key_version"`
}

// Client talks to one Password-Safe server with one session.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given server. token may be empty until login.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs a session token for subsequent requests.
func (c *Client) SetToken(token string) { c.token = token }

// do performs one JSON request. out may be nil when the response body does
// not matter.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// page is the {data, count} listing envelope.
type page[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// --- auth ---

// RegisterRequest carries a new account with locally generated key material.
type RegisterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	crypto.UserKeys
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &sess); err != nil {
		return nil, err
	}
	c.token = sess.Token
	return &sess, nil
}

// Salt fetches the KDF salt for an email address.
func (c *Client) Salt(ctx context.Context, email string) (string, error) {
	var resp struct {
		Salt string `json:"salt"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/salt", map[string]string{"email": email}, &resp)
	return resp.Salt, err
}

// Login authenticates with a verifier and stores the session token.
func (c *Client) Login(ctx context.Context, email, verifier string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"verifier": verifier,
	}, &sess)
	if err != nil {
		return nil, err
	}
	c.token = sess.Token
	return &sess, nil
}

// Logout invalidates the current session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePassword swaps the account's credentials: a new verifier and salt
// plus the private keys re-wrapped under the new password, gated on the old
// verifier. keys comes from crypto.RewrapUserKeys.
func (c *Client) ChangePassword(ctx context.Context, verifierOld string, keys *crypto.UserKeys) error {
	return c.do(ctx, http.MethodPatch, "/api/auth/account", map[string]string{
		"verifier_old":     verifierOld,
		"verifier":         keys.Verifier,
		"salt":             keys.Salt,
		"private_key":      keys.WrappedPrivateKey,
		"sign_private_key": keys.WrappedSignPrivKey,
	}, nil)
}

// --- organizations ---

// CreateOrganization creates an organization at key version 1.
func (c *Client) CreateOrganization(ctx context.Context, name, description string) (*Organization, error) {
	var org Organization
	err := c.do(ctx, http.MethodPost, "/api/admin/organizations", map[string]string{
		"name":        name,
		"description": description,
	}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ListOrganizations returns one page of organizations plus the total count.
func (c *Client) ListOrganizations(ctx context.Context, pageNo int) ([]Organization, int, error) {
	var resp page[Organization]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/organizations?page=%d", pageNo), nil, &resp)
	return resp.Data, resp.Count, err
}

// UpdateOrganization edits name and description.
func (c *Client) UpdateOrganization(ctx context.Context, orgID int64, name, description string) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/admin/organization/%d", orgID), map[string]string{
		"name":        name,
		"description": description,
	}, nil)
}

// DeleteOrganization deletes an organization and everything under it.
func (c *Client) DeleteOrganization(ctx context.Context, orgID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/organization/%d", orgID), nil, nil)
}

// AddMember grants membership. The caller distributes an envelope separately.
func (c *Client) AddMember(ctx context.Context, userID, orgID int64) error {
	return c.do(ctx, http.MethodPost, "/api/admin/organization/member", map[string]int64{
		"user_id": userID,
		"org_id":  orgID,
	}, nil)
}

// RemoveMember revokes membership and the member's envelopes. The caller is
// expected to rotate the organization key afterwards.
func (c *Client) RemoveMember(ctx context.Context, userID, orgID int64) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/organization/member", map[string]int64{
		"user_id": userID,
		"org_id":  orgID,
	}, nil)
}

// --- users ---

// PublicKeys is a user's public key pair as the directory reports it.
type PublicKeys struct {
	UserID        int64  `json:"user_id"`
	PublicKey     string `json:"public_key"`
	SignPublicKey string `json:"sign_public_key"`
}

// ListAdmins returns every administrator's id and public encryption key.
func (c *Client) ListAdmins(ctx context.Context) ([]PublicKeys, error) {
	var resp page[PublicKeys]
	if err := c.do(ctx, http.MethodGet, "/api/admin/users/admins", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UserKey fetches a user's public keys for wrapping.
func (c *Client) UserKey(ctx context.Context, userID int64) (*PublicKeys, error) {
	var keys PublicKeys
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/user/%d/key", userID), nil, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

// ListUsers returns one page of accounts plus the total count.
func (c *Client) ListUsers(ctx context.Context, pageNo int) ([]User, int, error) {
	var resp page[User]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/users?page=%d", pageNo), nil, &resp)
	return resp.Data, resp.Count, err
}

// UserOrganizations returns the ids of the organizations the user is a
// member of.
func (c *Client) UserOrganizations(ctx context.Context, userID int64) ([]int64, error) {
	var resp page[struct {
		OrgID int64 `json:"org_id"`
	}]
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/user/%d/organizations", userID), nil, &resp); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.OrgID)
	}
	return ids, nil
}

// UpdateUser edits an account's administrative fields.
func (c *Client) UpdateUser(ctx context.Context, user User) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/admin/user/%d", user.ID), map[string]any{
		"email":        user.Email,
		"first_name":   user.FirstName,
		"last_name":    user.LastName,
		"is_admin":     user.IsAdmin,
		"is_suspended": user.IsSuspended,
	}, nil)
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/user/%d", userID), nil, nil)
}

// --- safe ---

// Secret is a stored secret record as the API reports it.
type Secret struct {
	PassID      int64  `json:"pass_id"`
	OrgID       int64  `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Data        string `json:"data"`
	Sign        string `json:"sign"`
	KeyVersion  int64  `json:"key_version"`
}

// ListSecrets returns one page of an organization's secrets plus the total.
func (c *Client) ListSecrets(ctx context.Context, orgID int64, pageNo int) ([]Secret, int, error) {
	var resp page[Secret]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/safe/%d?page=%d", orgID, pageNo), nil, &resp)
	return resp.Data, resp.Count, err
}

// CreateSecret stores a new encrypted record and returns it with its id.
func (c *Client) CreateSecret(ctx context.Context, secret Secret) (*Secret, error) {
	var created Secret
	if err := c.do(ctx, http.MethodPost, "/api/safe", secret, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateSecret rewrites an existing record.
func (c *Client) UpdateSecret(ctx context.Context, secret Secret) error {
	return c.do(ctx, http.MethodPatch, "/api/safe", secret, nil)
}

// DeleteSecret removes a record.
func (c *Client) DeleteSecret(ctx context.Context, passID int64) error {
	return c.do(ctx, http.MethodDelete, "/api/safe", map[string]int64{"pass_id": passID}, nil)
}
