package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in account",
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	c, cfg, err := apiClient()
	if err != nil {
		return err
	}
	me, err := c.Me(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server: %s\n", cfg.Server)
	fmt.Fprintf(out, "User:   %s (id %d)\n", me.Email, me.ID)
	if me.FirstName != "" || me.LastName != "" {
		fmt.Fprintf(out, "Name:   %s %s\n", me.FirstName, me.LastName)
	}
	if me.IsAdmin {
		fmt.Fprintln(out, "Role:   administrator")
	}
	return nil
}
