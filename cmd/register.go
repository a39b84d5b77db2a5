package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/client"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	Long: `Create a new account on a Password-Safe server.

The encryption and signing keypairs are generated locally and their private
halves are wrapped with a key derived from your password before anything is
sent. The server never sees the password or the unwrapped keys.`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().String("server", "", "Server URL (e.g., https://safe.example.com)")
	registerCmd.Flags().String("email", "", "Email address")
	registerCmd.Flags().String("first-name", "", "First name")
	registerCmd.Flags().String("last-name", "", "Last name")
	rootCmd.AddCommand(registerCmd)
}

func serverFlag(cmd *cobra.Command) (string, error) {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = os.Getenv("PASSWORDSAFE_SERVER")
	}
	if server == "" {
		return "", fmt.Errorf("provide --server URL or set PASSWORDSAFE_SERVER")
	}
	return strings.TrimRight(server, "/"), nil
}

func runRegister(cmd *cobra.Command, args []string) error {
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
	firstName, _ := cmd.Flags().GetString("first-name")
	lastName, _ := cmd.Flags().GetString("last-name")

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Generating keys...")
	keys, _, err := crypto.GenerateUserKeys(password)
	if err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}

	c := client.New(server, "")
	sess, err := c.Register(cmd.Context(), client.RegisterRequest{
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		UserKeys:  *keys,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if err := saveConfig(&CLIConfig{
		Server: server,
		Token:  sess.Token,
		Email:  sess.User.Email,
	}); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Account created. Logged in as %s\n", sess.User.Email)
	return nil
}
