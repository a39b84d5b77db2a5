package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/rotation"
	"github.com/BERNARDO31P/Password-Safe/internal/server"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userRemoveCmd = &cobra.Command{
	Use:   "rm",
	Short: "Delete an account and rotate every key it held",
	Long: `Delete an account.

The deleted user's copies of organization keys may survive outside the
server, so every organization they had access to gets its key rotated
afterwards.`,
	RunE: runUserRemove,
}

func init() {
	userRemoveCmd.Flags().Int64("user", 0, "User id")
	userRemoveCmd.MarkFlagRequired("user")
	userCmd.AddCommand(userRemoveCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserRemove(cmd *cobra.Command, args []string) error {
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

	// Collect the affected organizations before the account and its
	// membership rows are gone. Admins hold every organization's key.
	target, err := findUser(ctx, c, userID)
	if err != nil {
		return err
	}
	var orgIDs []int64
	if target.IsAdmin {
		orgs, err := listAllOrganizations(ctx, c)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			orgIDs = append(orgIDs, org.ID)
		}
	} else {
		if orgIDs, err = c.UserOrganizations(ctx, userID); err != nil {
			return err
		}
	}

	if err := c.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	for _, orgID := range orgIDs {
		rot := &rotation.Rotator{
			Secrets:   c,
			Envelopes: c,
			Directory: c,
			Material:  material,
			UserID:    me.ID,
			PageSize:  server.DefaultPageSize,
		}
		if err := rot.Run(ctx, orgID, false); err != nil {
			return fmt.Errorf("rotating organization %d: %w (run 'password-safe rotate --org %d' to retry)",
				orgID, err, orgID)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %d, rotated %d organization(s)\n", userID, len(orgIDs))
	return nil
}
