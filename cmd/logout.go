package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	c, cfg, err := apiClient()
	if err != nil {
		return err
	}
	if err := c.Logout(cmd.Context()); err != nil {
		// The local token is discarded either way; a dead session on the
		// server expires on its own.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	cfg.Token = ""
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}
