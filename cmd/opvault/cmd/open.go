package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	openOutput  string
	openSummary bool
)

var openCmd = &cobra.Command{
	Use:   "open <name>",
	Short: "Decrypt a vault and print its contents",
	Long: `Decrypt a vault and print its payload as JSON.

Payloads written by earlier releases are upgraded to the current shape in
memory; the stored vault is upgraded on the next save.

Examples:
  opvault open Acme
  opvault open Acme -o acme.json
  opvault open Acme --summary`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().StringVarP(&openOutput, "output", "o", "", "write the payload to a file instead of stdout")
	openCmd.Flags().BoolVar(&openSummary, "summary", false, "print name, kind and item count only")
}

func runOpen(cmd *cobra.Command, args []string) error {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}

	sess, err := openSession(cmd.Context(), name)
	if err != nil {
		return err
	}
	defer sess.Close()

	p, err := sess.Payload()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if openSummary {
		if jsonOutput {
			return printJSON(out, map[string]any{
				"vault_name":  p.VaultName,
				"kind":        p.Kind,
				"item_count":  p.ItemCount(),
				"backend":     sess.Backend(),
				"created_at":  p.CreatedAt,
				"modified_at": p.ModifiedAt,
			})
		}
		PrintKeyValue(out, "Vault", p.VaultName)
		PrintKeyValue(out, "Kind", string(p.Kind))
		PrintKeyValue(out, "Items", fmt.Sprintf("%d", p.ItemCount()))
		PrintKeyValue(out, "Backend", string(sess.Backend()))
		PrintKeyValue(out, "Created", formatTime(p.CreatedAt))
		PrintKeyValue(out, "Modified", formatTime(p.ModifiedAt))
		return nil
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	data = append(data, '\n')

	if openOutput != "" {
		if err := os.WriteFile(openOutput, data, 0o600); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		Success("Wrote %d items to %s", p.ItemCount(), openOutput)
		return nil
	}

	_, err = out.Write(data)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return Dim("never")
	}
	return t.Local().Format(time.DateTime)
}
