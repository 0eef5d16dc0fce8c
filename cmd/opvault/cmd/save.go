package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
	"github.com/Adam-Moller/secure-opus-vault/internal/vault"
)

// maxStreamLine bounds one NDJSON line read by save --stream.
const maxStreamLine = 64 << 20

var (
	saveFile   string
	saveStream bool
)

var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Replace the contents of a vault",
	Long: `Encrypt new contents into a vault.

Input is read from stdin or --file. It may be a full payload as printed by
'opvault open', or just a body: a normalized object or a legacy list of
records, which is upgraded before saving.

With --stream, stdin carries one payload per line. Edits are debounced by
autosave_delay and only the latest pending one is written.

Examples:
  opvault save Acme < acme.json
  opvault save Acme --file acme.json
  editor-export --ndjson | opvault save Acme --stream`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
	saveCmd.Flags().StringVarP(&saveFile, "file", "f", "", "read the payload from a file instead of stdin")
	saveCmd.Flags().BoolVar(&saveStream, "stream", false, "read newline-delimited payloads and auto-save them")
}

func runSave(cmd *cobra.Command, args []string) error {
	name, err := vaultName(args[0])
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if saveFile != "" {
		f, err := os.Open(saveFile)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := cmd.Context()
	sess, err := openSession(ctx, name)
	if err != nil {
		return err
	}
	defer sess.Close()

	current, err := sess.Payload()
	if err != nil {
		return err
	}

	if saveStream {
		return saveStreamed(cmd, sess, current, in)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	p, err := parsePayload(data, current)
	if err != nil {
		return err
	}

	svc, err := service()
	if err != nil {
		return err
	}
	if err := svc.SaveVault(ctx, sess, p); err != nil {
		return err
	}

	Success("Saved %q (%d items)", name, p.ItemCount())
	return nil
}

func saveStreamed(cmd *cobra.Command, sess *vault.Session, current *schema.Payload, in io.Reader) error {
	ctx := cmd.Context()
	saver := vault.NewAutoSaver(sess, cfg.AutosaveDelay, func(err error) {
		Warning("auto-save failed: %s", vault.UserMessage(err))
	})

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	var edits int
	for line := 1; sc.Scan(); line++ {
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		p, err := parsePayload(data, current)
		if err != nil {
			_ = saver.Stop(ctx)
			return fmt.Errorf("line %d: %w", line, err)
		}
		saver.Touch(p)
		current = p
		edits++
	}
	if err := sc.Err(); err != nil {
		_ = saver.Stop(ctx)
		return fmt.Errorf("failed to read input: %w", err)
	}

	if err := saver.Stop(ctx); err != nil {
		return err
	}
	Success("Applied %d edits to %q (%d items)", edits, sess.Name(), current.ItemCount())
	return nil
}

// parsePayload reads a full payload, or a bare body applied to current.
func parsePayload(data []byte, current *schema.Payload) (*schema.Payload, error) {
	p, err := schema.DecodePayload(data)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, schema.ErrUnrecognizedShape) {
		return nil, err
	}

	body, berr := schema.Migrate(data, current.Kind)
	if berr != nil {
		return nil, fmt.Errorf("input is neither a payload nor a %s body: %w", current.Kind, berr)
	}
	next, err := current.Clone()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}
