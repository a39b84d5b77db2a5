package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change your password",
	Long: `Change your password.

The private keys are unwrapped with the current password and re-wrapped
under the new one locally; only the re-wrapped blobs and a new verifier go
to the server. Organization keys and signatures are unaffected because the
public keys do not change.`,
	RunE: runPasswd,
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}

func runPasswd(cmd *cobra.Command, args []string) error {
	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	me, err := c.Me(ctx)
	if err != nil {
		return err
	}

	oldPassword, err := promptPassword("Current password: ")
	if err != nil {
		return err
	}
	material, err := crypto.Unlock(oldPassword, me.Keys())
	if err != nil {
		return fmt.Errorf("unlocking keys: %w", err)
	}

	newPassword, err := promptPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm new password: ")
	if err != nil {
		return err
	}
	if newPassword != confirm {
		return fmt.Errorf("passwords do not match")
	}

	rewrapped, err := crypto.RewrapUserKeys(newPassword, material)
	if err != nil {
		return fmt.Errorf("re-wrapping keys: %w", err)
	}

	saltBytes, err := crypto.DecodeSalt(me.Salt)
	if err != nil {
		return err
	}
	oldKey := crypto.DeriveWrappingKey(oldPassword, saltBytes)
	defer crypto.Zero(oldKey)

	if err := c.ChangePassword(ctx, crypto.Verifier(oldKey), rewrapped); err != nil {
		return fmt.Errorf("changing password: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
	return nil
}
