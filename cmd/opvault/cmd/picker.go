package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adam-Moller/secure-opus-vault/internal/store"
)

// TerminalPicker asks on the terminal where a vault file goes. An empty
// answer accepts the default location in Dir; "-" cancels.
type TerminalPicker struct {
	in  *bufio.Reader
	out io.Writer
	dir string
}

// NewTerminalPicker returns a picker reading answers from in and writing
// prompts to out.
func NewTerminalPicker(in io.Reader, out io.Writer, dir string) *TerminalPicker {
	return &TerminalPicker{in: bufio.NewReader(in), out: out, dir: dir}
}

// PickSave implements store.Picker.
func (p *TerminalPicker) PickSave(ctx context.Context, vaultName string) (string, error) {
	return p.ask(ctx, fmt.Sprintf("Save vault %q to", vaultName), vaultName)
}

// PickOpen implements store.Picker.
func (p *TerminalPicker) PickOpen(ctx context.Context, vaultName string) (string, error) {
	return p.ask(ctx, fmt.Sprintf("Location of vault %q", vaultName), vaultName)
}

func (p *TerminalPicker) ask(ctx context.Context, prompt, vaultName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	file := vaultName + store.FileExtension
	def := filepath.Join(p.dir, file)
	fmt.Fprintf(p.out, "%s [%s]: ", prompt, def)

	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", store.ErrPickCanceled
	}

	answer := strings.TrimSpace(line)
	switch answer {
	case "":
		return def, nil
	case "-":
		return "", store.ErrPickCanceled
	}

	if strings.HasPrefix(answer, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			answer = filepath.Join(home, answer[2:])
		}
	}
	if info, err := os.Stat(answer); err == nil && info.IsDir() {
		answer = filepath.Join(answer, file)
	} else if filepath.Ext(answer) != store.FileExtension {
		answer += store.FileExtension
	}
	return filepath.Abs(answer)
}
