package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/client"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
	"github.com/BERNARDO31P/Password-Safe/internal/rotation"
	"github.com/BERNARDO31P/Password-Safe/internal/server"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator roles",
}

var adminGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Make a user an administrator",
	Long: `Make a user an administrator.

Administrators hold every organization's key, so the grant wraps each
current key for the new admin.`,
	RunE: runAdminGrant,
}

var adminRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a user's administrator role",
	Long: `Revoke a user's administrator role.

Every organization the user no longer belongs to gets its key rotated, so
nothing stored stays readable with key material they may have kept.`,
	RunE: runAdminRevoke,
}

func init() {
	for _, c := range []*cobra.Command{adminGrantCmd, adminRevokeCmd} {
		c.Flags().Int64("user", 0, "User id")
		c.MarkFlagRequired("user")
	}
	adminCmd.AddCommand(adminGrantCmd, adminRevokeCmd)
	rootCmd.AddCommand(adminCmd)
}

// findUser pages through the account list until it finds the given id.
func findUser(ctx context.Context, c *client.Client, userID int64) (*client.User, error) {
	for pageNo, seen := 1, 0; ; pageNo++ {
		users, total, err := c.ListUsers(ctx, pageNo)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if users[i].ID == userID {
				return &users[i], nil
			}
		}
		seen += len(users)
		if seen >= total || len(users) == 0 {
			return nil, fmt.Errorf("user %d not found", userID)
		}
	}
}

// listAllOrganizations drains the organization list across pages.
func listAllOrganizations(ctx context.Context, c *client.Client) ([]client.Organization, error) {
	var all []client.Organization
	for pageNo := 1; ; pageNo++ {
		orgs, total, err := c.ListOrganizations(ctx, pageNo)
		if err != nil {
			return nil, err
		}
		all = append(all, orgs...)
		if len(all) >= total || len(orgs) == 0 {
			return all, nil
		}
	}
}

func runAdminGrant(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")

	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	_, material, err := unlockSession(ctx, c)
	if err != nil {
		return err
	}

	target, err := findUser(ctx, c, userID)
	if err != nil {
		return err
	}
	if target.IsAdmin {
		return fmt.Errorf("user %d is already an administrator", userID)
	}
	pub, err := crypto.ParsePublicKey(target.PublicKey)
	if err != nil {
		return fmt.Errorf("parsing public key of user %d: %w", userID, err)
	}

	updated := *target
	updated.IsAdmin = true
	if err := c.UpdateUser(ctx, updated); err != nil {
		return fmt.Errorf("granting admin: %w", err)
	}

	orgs, err := listAllOrganizations(ctx, c)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		orgKey, keyVersion, err := currentOrgKey(ctx, c, material, org.ID)
		if err != nil {
			return fmt.Errorf("organization %d: %w", org.ID, err)
		}
		wrapped, err := crypto.WrapOrgKey(orgKey, pub)
		crypto.Zero(orgKey)
		if err != nil {
			return fmt.Errorf("wrapping key of organization %d: %w", org.ID, err)
		}
		env := rotation.Envelope{
			UserID:     userID,
			OrgID:      org.ID,
			Data:       wrapped,
			Sign:       crypto.SignDetached(wrapped, material.SigningKey),
			KeyVersion: keyVersion,
		}
		if err := c.SubmitEnvelope(ctx, env); err != nil {
			return fmt.Errorf("distributing key of organization %d: %w", org.ID, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "User %d is now an administrator with access to %d organization(s)\n",
		userID, len(orgs))
	return nil
}

func runAdminRevoke(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")

	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	me, material, err := unlockSession(ctx, c)
	if err != nil {
		return err
	}

	target, err := findUser(ctx, c, userID)
	if err != nil {
		return err
	}
	if !target.IsAdmin {
		return fmt.Errorf("user %d is not an administrator", userID)
	}

	updated := *target
	updated.IsAdmin = false
	if err := c.UpdateUser(ctx, updated); err != nil {
		return fmt.Errorf("revoking admin: %w", err)
	}

	orgs, err := listAllOrganizations(ctx, c)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		// Rotation rewraps only for current members and admins, which
		// cuts the revoked user out of every organization they are not a
		// member of in their own right.
		rot := &rotation.Rotator{
			Secrets:   c,
			Envelopes: c,
			Directory: c,
			Material:  material,
			UserID:    me.ID,
			PageSize:  server.DefaultPageSize,
		}
		if err := rot.Run(ctx, org.ID, false); err != nil {
			return fmt.Errorf("rotating organization %d: %w (run 'password-safe rotate --org %d' to retry)",
				org.ID, err, org.ID)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Revoked administrator role of user %d, rotated %d organization(s)\n",
		userID, len(orgs))
	return nil
}
