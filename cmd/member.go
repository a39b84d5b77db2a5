package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
	"github.com/BERNARDO31P/Password-Safe/internal/rotation"
	"github.com/BERNARDO31P/Password-Safe/internal/server"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage organization members",
}

var memberAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user to an organization and hand them the key",
	RunE:  runMemberAdd,
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a user from an organization and rotate its key",
	RunE:  runMemberRemove,
}

func init() {
	for _, c := range []*cobra.Command{memberAddCmd, memberRemoveCmd} {
		c.Flags().Int64("org", 0, "Organization id")
		c.Flags().Int64("user", 0, "User id")
		c.MarkFlagRequired("org")
		c.MarkFlagRequired("user")
	}
	memberCmd.AddCommand(memberAddCmd, memberRemoveCmd)
	rootCmd.AddCommand(memberCmd)
}

func runMemberAdd(cmd *cobra.Command, args []string) error {
	orgID, _ := cmd.Flags().GetInt64("org")
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

	orgKey, keyVersion, err := currentOrgKey(ctx, c, material, orgID)
	if err != nil {
		return err
	}
	defer crypto.Zero(orgKey)

	target, err := c.UserKey(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetching user %d: %w", userID, err)
	}
	pub, err := crypto.ParsePublicKey(target.PublicKey)
	if err != nil {
		return fmt.Errorf("parsing public key of user %d: %w", userID, err)
	}
	wrapped, err := crypto.WrapOrgKey(orgKey, pub)
	if err != nil {
		return fmt.Errorf("wrapping key for user %d: %w", userID, err)
	}

	// Membership first: the server rejects envelopes for users who are
	// neither members nor admins.
	if err := c.AddMember(ctx, userID, orgID); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	env := rotation.Envelope{
		UserID:     userID,
		OrgID:      orgID,
		Data:       wrapped,
		Sign:       crypto.SignDetached(wrapped, material.SigningKey),
		KeyVersion: keyVersion,
	}
	if err := c.SubmitEnvelope(ctx, env); err != nil {
		return fmt.Errorf("distributing key to user %d: %w", userID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added user %d to organization %d\n", userID, orgID)
	return nil
}

func runMemberRemove(cmd *cobra.Command, args []string) error {
	orgID, _ := cmd.Flags().GetInt64("org")
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

	if err := c.RemoveMember(ctx, userID, orgID); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed user %d from organization %d, rotating key...\n", userID, orgID)

	// The removed user may still hold the old key in memory or in a copy
	// of an envelope. Rotation makes everything stored under it unreadable
	// to them.
	rot := &rotation.Rotator{
		Secrets:   c,
		Envelopes: c,
		Directory: c,
		Material:  material,
		UserID:    me.ID,
		PageSize:  server.DefaultPageSize,
	}
	if err := rot.Run(ctx, orgID, false); err != nil {
		return fmt.Errorf("rotating key: %w (run 'password-safe rotate --org %d' to retry)", err, orgID)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Key rotated")
	return nil
}
