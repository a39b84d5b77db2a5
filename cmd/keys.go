package cmd

import (
	"context"
	"fmt"

	"github.com/BERNARDO31P/Password-Safe/internal/client"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

// orgKeyring unwraps every envelope the caller holds for the organization,
// keyed by key version. More than one entry exists only while an interrupted
// rotation has left rows behind on the previous key.
func orgKeyring(ctx context.Context, c *client.Client, material *crypto.KeyMaterial, orgID int64) (map[int64][]byte, error) {
	envelopes, err := c.OwnEnvelopes(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, fmt.Errorf("no access to organization %d", orgID)
	}
	keyring := make(map[int64][]byte, len(envelopes))
	for _, env := range envelopes {
		key, err := crypto.UnwrapOrgKey(env.Data, material.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("unwrapping organization key v%d: %w", env.KeyVersion, err)
		}
		keyring[env.KeyVersion] = key
	}
	return keyring, nil
}

// currentOrgKey unwraps the caller's newest envelope for the organization
// and returns the key with its version.
func currentOrgKey(ctx context.Context, c *client.Client, material *crypto.KeyMaterial, orgID int64) ([]byte, int64, error) {
	envelopes, err := c.OwnEnvelopes(ctx, orgID)
	if err != nil {
		return nil, 0, err
	}
	if len(envelopes) == 0 {
		return nil, 0, fmt.Errorf("no access to organization %d", orgID)
	}
	// Envelopes arrive newest key version first.
	env := envelopes[0]
	key, err := crypto.UnwrapOrgKey(env.Data, material.EncryptionKey)
	if err != nil {
		return nil, 0, fmt.Errorf("unwrapping organization key: %w", err)
	}
	return key, env.KeyVersion, nil
}

// zeroKeyring wipes every unwrapped key in the ring.
func zeroKeyring(keyring map[int64][]byte) {
	for _, key := range keyring {
		crypto.Zero(key)
	}
}
