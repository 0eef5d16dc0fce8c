package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Copy a vault's encrypted file out of storage",
	Long: `Write a vault's sealed envelope, unchanged, to a file or stdout.

The export is still encrypted and needs the vault password to open. Use it
to back up a vault or to move it between the file and embedded backends
with 'opvault import'.

Examples:
  opvault export Acme -o acme.enc
  opvault export Acme > acme.enc`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}

	svc, err := service()
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput == "" {
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return errors.New("refusing to write binary data to a terminal; use --output or redirect stdout")
		}
	} else {
		f, ferr := os.OpenFile(exportOutput, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if ferr != nil {
			return fmt.Errorf("failed to create file: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(exportOutput)
			}
		}()
		w = f
	}

	if err := svc.ExportVault(cmd.Context(), name, w); err != nil {
		return err
	}

	if exportOutput != "" {
		Success("Exported %q to %s", name, exportOutput)
	}
	return nil
}
