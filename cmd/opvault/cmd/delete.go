package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a vault",
	Long: `Delete a vault's encrypted data and its registry entry.

By default, you will be prompted to confirm the deletion.
Use --yes or -y to skip the confirmation prompt.`,
	Aliases: []string{"rm", "remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteForce, "yes", "y", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}

	if !deleteForce {
		if !PromptConfirm(fmt.Sprintf("Delete vault %q? This cannot be undone.", name)) {
			Info("Canceled")
			return nil
		}
	}

	svc, err := service()
	if err != nil {
		return err
	}
	if err := svc.DeleteVault(cmd.Context(), name); err != nil {
		return err
	}

	Success("Vault %q deleted", name)
	return nil
}
