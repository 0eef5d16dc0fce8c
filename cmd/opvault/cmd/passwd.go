package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd <name>",
	Short: "Change a vault's password",
	Long: `Re-encrypt a vault under a new password.

A fresh salt is drawn, so the new key shares nothing with the old one. If
writing fails the vault keeps its old password.

In scripts, set OPVAULT_PASSWORD to the current password and
OPVAULT_NEW_PASSWORD to the new one.`,
	Aliases: []string{"rotate"},
	Args:    cobra.ExactArgs(1),
	RunE:    runPasswd,
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}

func runPasswd(cmd *cobra.Command, args []string) error {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}

	svc, err := service()
	if err != nil {
		return err
	}

	oldPassword, err := readPassword(fmt.Sprintf("Current password for %s: ", name))
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(oldPassword)

	newPassword, err := readNewPassword(newPasswordEnv)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(newPassword)

	if err := svc.ChangePassword(cmd.Context(), name, oldPassword, newPassword); err != nil {
		return err
	}

	Success("Password changed for %q", name)
	return nil
}
