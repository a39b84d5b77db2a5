package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BERNARDO31P/Password-Safe/internal/rotation"
)

// The client is the HTTP implementation of the rotation orchestrator's
// pager interfaces. Page size is fixed server-side; the pageSize argument
// only sizes the cursor arithmetic and must match the server's.

var (
	_ rotation.SecretPager   = (*Client)(nil)
	_ rotation.EnvelopePager = (*Client)(nil)
	_ rotation.Directory     = (*Client)(nil)
)

// FetchSecrets returns one page of the organization's secret records and
// the server-reported total.
func (c *Client) FetchSecrets(ctx context.Context, orgID int64, page, pageSize int) ([]rotation.SecretRecord, int, error) {
	secrets, total, err := c.ListSecrets(ctx, orgID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching secrets page %d: %w", page, err)
	}
	records := make([]rotation.SecretRecord, 0, len(secrets))
	for _, s := range secrets {
		records = append(records, rotation.SecretRecord{
			PassID:      s.PassID,
			OrgID:       s.OrgID,
			Name:        s.Name,
			Description: s.Description,
			URL:         s.URL,
			Data:        s.Data,
			Sign:        s.Sign,
			KeyVersion:  s.KeyVersion,
		})
	}
	return records, total, nil
}

// SubmitSecrets writes one re-encrypted page in a single batch.
func (c *Client) SubmitSecrets(ctx context.Context, records []rotation.SecretRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPatch, "/api/safe/batch", records, nil); err != nil {
		return fmt.Errorf("submitting secrets: %w", err)
	}
	return nil
}

// SubmitEnvelopes writes one page of rewrapped keys in a single batch.
func (c *Client) SubmitEnvelopes(ctx context.Context, envelopes []rotation.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPatch, "/api/admin/organization/keys", envelopes, nil); err != nil {
		return fmt.Errorf("submitting envelopes: %w", err)
	}
	return nil
}

// SubmitEnvelope writes a single wrapped key, outside rotation (member add,
// admin grant, initial distribution).
func (c *Client) SubmitEnvelope(ctx context.Context, env rotation.Envelope) error {
	if err := c.do(ctx, http.MethodPost, "/api/admin/organization/key", env, nil); err != nil {
		return fmt.Errorf("submitting envelope: %w", err)
	}
	return nil
}

// PruneStale removes envelopes older than the given key version.
func (c *Client) PruneStale(ctx context.Context, orgID, keyVersion int64) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/admin/organization/%d/prune", orgID), map[string]int64{
		"key_version": keyVersion,
	}, nil)
	if err != nil {
		return fmt.Errorf("pruning envelopes: %w", err)
	}
	return nil
}

// FetchRecipients returns one page of users entitled to the organization key.
func (c *Client) FetchRecipients(ctx context.Context, orgID int64, page, pageSize int) ([]rotation.Recipient, int, error) {
	var resp struct {
		Data  []rotation.Recipient `json:"data"`
		Count int                  `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/organization/%d/recipients?page=%d", orgID, page), nil, &resp)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching recipients page %d: %w", page, err)
	}
	return resp.Data, resp.Count, nil
}

// OwnEnvelopes returns the caller's envelopes for the organization, newest
// key version first.
func (c *Client) OwnEnvelopes(ctx context.Context, orgID int64) ([]rotation.Envelope, error) {
	var resp struct {
		Data []rotation.Envelope `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/safe/%d/key", orgID), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetching own envelopes: %w", err)
	}
	return resp.Data, nil
}

// BeginRotation allocates the next key version for the organization.
func (c *Client) BeginRotation(ctx context.Context, orgID int64) (int64, error) {
	var resp struct {
		KeyVersion int64 `json:"key_version"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/admin/organization/%d/rotate-begin", orgID), nil, &resp)
	if err != nil {
		return 0, fmt.Errorf("beginning rotation: %w", err)
	}
	return resp.KeyVersion, nil
}
