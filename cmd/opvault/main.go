// Package main is the entry point for the opvault CLI.
package main

import (
	"os"

	"github.com/Adam-Moller/secure-opus-vault/cmd/opvault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
