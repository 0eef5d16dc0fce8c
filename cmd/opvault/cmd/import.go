package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
)

var importCmd = &cobra.Command{
	Use:   "import <name> <file>",
	Short: "Import an exported vault file",
	Long: `Store an exported vault file under a new name in the current backend.

The vault password is checked before anything is written, so a wrong
password or a file that is not a vault leaves storage untouched.

Examples:
  opvault import Acme acme.enc
  opvault import "Acme Copy" acme.enc --backend embedded`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}

	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	svc, err := service()
	if err != nil {
		return err
	}

	password, err := readPassword(fmt.Sprintf("Password for %s: ", args[1]))
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(password)

	sess, err := svc.ImportVault(cmd.Context(), name, f, password)
	if err != nil {
		return err
	}
	defer sess.Close()

	p, err := sess.Payload()
	if err != nil {
		return err
	}
	Success("Imported %q (%s, %d items) into the %s backend", name, p.Kind, p.ItemCount(), sess.Backend())
	return nil
}
