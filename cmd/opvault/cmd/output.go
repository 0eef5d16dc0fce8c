package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	// Color definitions.
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
)

// Status messages go to stderr so stdout carries only vault data.

// Success prints a success message in green.
func Success(format string, a ...any) {
	successColor.Fprintf(os.Stderr, "✓ "+format+"\n", a...)
}

// Error prints an error message in red.
func Error(format string, a ...any) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", a...)
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	warningColor.Fprintf(os.Stderr, "⚠ "+format+"\n", a...)
}

// Info prints an info message in cyan.
func Info(format string, a ...any) {
	infoColor.Fprintf(os.Stderr, "ℹ "+format+"\n", a...)
}

// Dim returns text in dim/faint style.
func Dim(format string, a ...any) string {
	return dimColor.Sprintf(format, a...)
}

// PromptConfirm asks for user confirmation and returns true if confirmed.
func PromptConfirm(message string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", message)

	var response string
	_, err := fmt.Scanln(&response)
	if err != nil {
		return false
	}

	switch strings.ToLower(response) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// PrintKeyValue prints a key-value pair with the key highlighted.
func PrintKeyValue(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s: %s\n", boldColor.Sprint(key), value)
}

// PrintTableHeader prints a table header with bold column names.
func PrintTableHeader(w io.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, boldColor.Sprint(col))
	}
	fmt.Fprintln(w)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
