package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BERNARDO31P/Password-Safe/internal/client"
	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage stored secrets",
}

var secretAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a new secret in an organization",
	RunE:  runSecretAdd,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an organization's secrets",
	RunE:  runSecretList,
}

var secretRemoveCmd = &cobra.Command{
	Use:   "rm <pass-id>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretRemove,
}

func init() {
	secretAddCmd.Flags().Int64("org", 0, "Organization id")
	secretAddCmd.Flags().String("name", "", "Secret name")
	secretAddCmd.Flags().String("description", "", "Description")
	secretAddCmd.Flags().String("url", "", "Associated URL")
	secretAddCmd.MarkFlagRequired("org")

	secretListCmd.Flags().Int64("org", 0, "Organization id")
	secretListCmd.Flags().Bool("show", false, "Decrypt and print credentials")
	secretListCmd.MarkFlagRequired("org")

	secretCmd.AddCommand(secretAddCmd, secretListCmd, secretRemoveCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretAdd(cmd *cobra.Command, args []string) error {
	orgID, _ := cmd.Flags().GetInt64("org")
	name, _ := cmd.Flags().GetString("name")
	description, _ := cmd.Flags().GetString("description")
	url, _ := cmd.Flags().GetString("url")

	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if name == "" {
		if name, err = promptLine("Name: "); err != nil {
			return err
		}
	}

	_, material, err := unlockSession(ctx, c)
	if err != nil {
		return err
	}

	account, err := promptLine("Account: ")
	if err != nil {
		return err
	}
	secretPassword, err := promptPassword("Secret password: ")
	if err != nil {
		return err
	}

	orgKey, keyVersion, err := currentOrgKey(ctx, c, material, orgID)
	if err != nil {
		return err
	}
	defer crypto.Zero(orgKey)

	blob, err := crypto.EncryptCredentials(crypto.Credentials{
		Account:  account,
		Password: secretPassword,
	}, orgKey)
	if err != nil {
		return fmt.Errorf("encrypting credentials: %w", err)
	}

	created, err := c.CreateSecret(ctx, client.Secret{
		OrgID:       orgID,
		Name:        name,
		Description: description,
		URL:         url,
		Data:        blob,
		Sign:        crypto.SignDetached(blob, material.SigningKey),
		KeyVersion:  keyVersion,
	})
	if err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %q (id %d)\n", created.Name, created.PassID)
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	orgID, _ := cmd.Flags().GetInt64("org")
	show, _ := cmd.Flags().GetBool("show")

	c, _, err := apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var keyring map[int64][]byte
	if show {
		_, material, err := unlockSession(ctx, c)
		if err != nil {
			return err
		}
		if keyring, err = orgKeyring(ctx, c, material, orgID); err != nil {
			return err
		}
		defer zeroKeyring(keyring)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if show {
		fmt.Fprintln(w, "ID\tNAME\tURL\tACCOUNT\tPASSWORD")
	} else {
		fmt.Fprintln(w, "ID\tNAME\tURL\tDESCRIPTION")
	}

	for pageNo, seen := 1, 0; ; pageNo++ {
		secrets, total, err := c.ListSecrets(ctx, orgID, pageNo)
		if err != nil {
			return err
		}
		for _, s := range secrets {
			if !show {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.PassID, s.Name, s.URL, s.Description)
				continue
			}
			orgKey, ok := keyring[s.KeyVersion]
			if !ok {
				fmt.Fprintf(w, "%d\t%s\t%s\t(no key for version %d)\t\n", s.PassID, s.Name, s.URL, s.KeyVersion)
				continue
			}
			creds, err := crypto.DecryptCredentials(s.Data, orgKey)
			if err != nil {
				return fmt.Errorf("decrypting secret %d: %w", s.PassID, err)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.PassID, s.Name, s.URL, creds.Account, creds.Password)
		}
		seen += len(secrets)
		if seen >= total || len(secrets) == 0 {
			break
		}
	}
	return w.Flush()
}

func runSecretRemove(cmd *cobra.Command, args []string) error {
	passID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || passID <= 0 {
		return fmt.Errorf("invalid secret id %q", args[0])
	}
	c, _, err := apiClient()
	if err != nil {
		return err
	}
	if err := c.DeleteSecret(cmd.Context(), passID); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret %d\n", passID)
	return nil
}
