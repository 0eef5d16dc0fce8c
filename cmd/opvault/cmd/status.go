package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and storage status",
	Long:  "Show the data directory, the storage backend in use, the cipher for new vaults and the number of known vaults.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	svc, err := service()
	if err != nil {
		return err
	}

	entries, err := svc.ListKnownVaults(cmd.Context())
	if err != nil {
		return err
	}

	backend := svc.Backend().Kind()
	config := configUsed
	if config == "" {
		config = "none"
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"data_dir":    cfg.DataDir,
			"config_file": configUsed,
			"registry":    cfg.RegistryFile,
			"backend":     backend,
			"sandboxed":   cfg.Sandboxed,
			"cipher":      cfg.Cipher.String(),
			"vault_count": len(entries),
		})
	}

	PrintKeyValue(out, "Data directory", cfg.DataDir)
	PrintKeyValue(out, "Config file", config)
	PrintKeyValue(out, "Registry", cfg.RegistryFile)
	PrintKeyValue(out, "Backend", string(backend))
	PrintKeyValue(out, "Sandboxed", fmt.Sprintf("%t", cfg.Sandboxed))
	PrintKeyValue(out, "Cipher", cfg.Cipher.String())
	PrintKeyValue(out, "Vaults", fmt.Sprintf("%d", len(entries)))
	return nil
}
