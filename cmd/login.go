package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/client"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with a Password-Safe server",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().String("server", "", "Server URL (e.g., https://safe.example.com)")
	loginCmd.Flags().String("email", "", "Email address")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	server, err := serverFlag(cmd)
	if err != nil {
		return err
	}

	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		if email, err = promptLine("Email: "); err != nil {
			return err
		}
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	// The verifier is derived from the password and the account's salt;
	// the password itself never goes on the wire.
	c := client.New(server, "")
	salt, err := c.Salt(cmd.Context(), email)
	if err != nil {
		return fmt.Errorf("fetching salt: %w", err)
	}
	saltBytes, err := crypto.DecodeSalt(salt)
	if err != nil {
		return err
	}
	wrappingKey := crypto.DeriveWrappingKey(password, saltBytes)
	defer crypto.Zero(wrappingKey)

	sess, err := c.Login(cmd.Context(), email, crypto.Verifier(wrappingKey))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	// Prove the password actually unlocks the returned key material before
	// persisting the session.
	if _, err := crypto.Unlock(password, sess.User.Keys()); err != nil {
		return fmt.Errorf("unlocking keys: %w", err)
	}

	if err := saveConfig(&CLIConfig{
		Server: server,
		Token:  sess.Token,
		Email:  sess.User.Email,
	}); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", sess.User.Email)
	return nil
}
