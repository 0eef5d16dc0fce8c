package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known vaults",
	Long: `List the vaults in the registry with their kind, item count and
last use. Entries whose data is gone from the vault directory or the
embedded store are dropped first.

The counts are as of each vault's last save; no password is needed.`,
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// vaultListing is the JSON form of a registry entry.
type vaultListing struct {
	VaultName      string     `json:"vault_name"`
	Kind           string     `json:"kind"`
	ItemCount      int        `json:"item_count"`
	Backend        string     `json:"backend,omitempty"`
	LastOpenedAt   *time.Time `json:"last_opened_at,omitempty"`
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func runList(cmd *cobra.Command, _ []string) error {
	svc, err := service()
	if err != nil {
		return err
	}

	entries, err := svc.ListKnownVaults(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list vaults: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		listing := make([]vaultListing, 0, len(entries))
		for _, e := range entries {
			listing = append(listing, vaultListing{
				VaultName:      e.VaultName,
				Kind:           string(e.Kind),
				ItemCount:      e.ItemCount,
				Backend:        string(e.Backend),
				LastOpenedAt:   optionalTime(e.LastOpenedAt),
				LastModifiedAt: optionalTime(e.LastModifiedAt),
			})
		}
		return printJSON(out, listing)
	}

	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "No vaults found.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Create one with: opvault create NAME")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	PrintTableHeader(tw, "NAME", "KIND", "ITEMS", "BACKEND", "OPENED", "MODIFIED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.VaultName, e.Kind, e.ItemCount, e.Backend,
			formatTime(e.LastOpenedAt), formatTime(e.LastModifiedAt))
	}
	return tw.Flush()
}
