package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
	"github.com/BERNARDO31P/Password-Safe/internal/rotation"
)

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations",
}

var orgCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an organization and distribute its key to all admins",
	RunE:  runOrgCreate,
}

var orgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List organizations you can see",
	RunE:  runOrgList,
}

var orgDeleteCmd = &cobra.Command{
	Use:   "rm <org-id>",
	Short: "Delete an organization and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgDelete,
}

func init() {
	orgCreateCmd.Flags().String("name", "", "Organization name")
	orgCreateCmd.Flags().String("description", "", "Organization description")
	orgCmd.AddCommand(orgCreateCmd, orgListCmd, orgDeleteCmd)
	rootCmd.AddCommand(orgCmd)
}

func orgIDArg(args []string) (int64, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid organization id %q", args[0])
	}
	return id, nil
}

func runOrgCreate(cmd *cobra.Command, args []string) error {
	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		if name, err = promptLine("Name: "); err != nil {
			return err
		}
	}
	description, _ := cmd.Flags().GetString("description")

	_, material, err := unlockSession(ctx, c)
	if err != nil {
		return err
	}

	org, err := c.CreateOrganization(ctx, name, description)
	if err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}

	// The organization key exists only client-side. Wrap it for every
	// administrator, the creator included, before anything can be stored
	// under it.
	orgKey, err := crypto.GenerateOrgKey()
	if err != nil {
		return err
	}
	defer crypto.Zero(orgKey)

	admins, err := c.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("listing admins: %w", err)
	}
	for _, admin := range admins {
		pub, err := crypto.ParsePublicKey(admin.PublicKey)
		if err != nil {
			return fmt.Errorf("parsing public key of user %d: %w", admin.UserID, err)
		}
		wrapped, err := crypto.WrapOrgKey(orgKey, pub)
		if err != nil {
			return fmt.Errorf("wrapping key for user %d: %w", admin.UserID, err)
		}
		env := rotation.Envelope{
			UserID:     admin.UserID,
			OrgID:      org.ID,
			Data:       wrapped,
			Sign:       crypto.SignDetached(wrapped, material.SigningKey),
			KeyVersion: org.KeyVersion,
		}
		if err := c.SubmitEnvelope(ctx, env); err != nil {
			return fmt.Errorf("distributing key to user %d: %w", admin.UserID, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created organization %q (id %d), key distributed to %d admin(s)\n",
		org.Name, org.ID, len(admins))
	return nil
}

func runOrgList(cmd *cobra.Command, args []string) error {
	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKEY VERSION\tDESCRIPTION")
	for pageNo, seen := 1, 0; ; pageNo++ {
		orgs, total, err := c.ListOrganizations(ctx, pageNo)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", org.ID, org.Name, org.KeyVersion, org.Description)
		}
		seen += len(orgs)
		if seen >= total || len(orgs) == 0 {
			break
		}
	}
	return w.Flush()
}

func runOrgDelete(cmd *cobra.Command, args []string) error {
	orgID, err := orgIDArg(args)
	if err != nil {
		return err
	}
	c, _, err := apiClient()
	if err != nil {
		return err
	}
	if err := c.DeleteOrganization(cmd.Context(), orgID); err != nil {
		return fmt.Errorf("deleting organization: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted organization %d\n", orgID)
	return nil
}
