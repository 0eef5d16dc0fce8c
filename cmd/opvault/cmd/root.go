// Package cmd provides the CLI commands for opvault.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Adam-Moller/secure-opus-vault/internal/config"
	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
	"github.com/Adam-Moller/secure-opus-vault/internal/logging"
	"github.com/Adam-Moller/secure-opus-vault/internal/vault"
)

var (
	cfgFile     string
	dataDir     string
	backendName string
	pickFiles   bool
	jsonOutput  bool
	verbose     bool

	// Set by setup before any command runs.
	cfg        *config.Config
	configUsed string
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "opvault",
	Short: "opvault - password-protected local vaults for CRM data",
	Long: `opvault keeps sales and workforce records in encrypted local vaults.

Each vault is sealed with a key derived from its own password. Vaults live
either as .enc files or inside an embedded database, and a registry keeps
track of every vault by name.

Get started:
  opvault create Acme --kind sales     Create a vault
  opvault open Acme                    Print the decrypted contents
  opvault save Acme < data.json        Replace the contents
  opvault list                         Show known vaults

Environment:
  OPVAULT_PASSWORD       password used instead of prompting
  OPVAULT_NEW_PASSWORD   new password for 'opvault passwd'
  OPVAULT_DATA_DIR       data directory (default ~/.opvault)`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	teardown()
	if err != nil {
		Error("%s", vault.UserMessage(err))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.opvault)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "storage backend: auto, native or embedded")
	rootCmd.PersistentFlags().BoolVar(&pickFiles, "pick", false, "ask where to put each new vault file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setup loads configuration and installs the logger. The vault service is
// built on first use by service().
func setup(cmd *cobra.Command, _ []string) error {
	v := config.New()
	flags := cmd.Root().PersistentFlags()
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("backend", flags.Lookup("backend"))

	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	if verbose {
		c.Log.Level = "debug"
	}

	logger, err := logging.Setup(os.Stderr, c.Log.Level, c.Log.Format)
	if err != nil {
		return err
	}
	if err := crypto.DisableCoreDumps(); err != nil {
		logger.Debug("could not disable core dumps", "error", err)
	}

	cfg = c
	configUsed = v.ConfigFileUsed()
	return nil
}
