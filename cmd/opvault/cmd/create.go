package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
)

var createKind string

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new vault",
	Long: `Create a new encrypted vault.

You will be prompted for the password that protects the vault. There is no
way to recover a vault whose password is lost.

Examples:
  opvault create Acme
  opvault create "Store Staff" --kind workforce
  opvault create Acme --backend embedded`,
	Aliases: []string{"init", "new"},
	Args:    cobra.ExactArgs(1),
	RunE:    runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&createKind, "kind", "k", string(schema.DefaultKind), "vault kind: sales or workforce")
}

func runCreate(cmd *cobra.Command, args []string) error {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}
	kind, err := schema.ParseKind(createKind)
	if err != nil {
		return err
	}

	svc, err := service()
	if err != nil {
		return err
	}

	password, err := readNewPassword(passwordEnv)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(password)

	sess, err := svc.CreateVault(cmd.Context(), name, password, kind)
	if err != nil {
		return err
	}
	defer sess.Close()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"vault_name": name,
			"kind":       kind,
			"backend":    sess.Backend(),
		})
	}

	Success("Vault %q created (%s, %s backend)", name, kind, sess.Backend())
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Next steps:")
	fmt.Fprintf(os.Stderr, "  opvault save %q < data.json    Store records\n", name)
	fmt.Fprintf(os.Stderr, "  opvault open %q                Print them\n", name)
	return nil
}
