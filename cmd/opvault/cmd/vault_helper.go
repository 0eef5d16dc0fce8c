package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/Adam-Moller/secure-opus-vault/internal/config"
	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
	"github.com/Adam-Moller/secure-opus-vault/internal/metrics"
	"github.com/Adam-Moller/secure-opus-vault/internal/registry"
	"github.com/Adam-Moller/secure-opus-vault/internal/store"
	"github.com/Adam-Moller/secure-opus-vault/internal/validation"
	"github.com/Adam-Moller/secure-opus-vault/internal/vault"
)

const (
	passwordEnv    = "OPVAULT_PASSWORD"
	newPasswordEnv = "OPVAULT_NEW_PASSWORD"
)

// active is the service built for the running command, closed by teardown.
var active struct {
	svc      *vault.Service
	backends []store.Backend
}

// service returns the vault service, building it on first use.
func service() (*vault.Service, error) {
	if active.svc != nil {
		return active.svc, nil
	}
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	var picker store.Picker
	if pickFiles {
		picker = NewTerminalPicker(os.Stdin, os.Stderr, cfg.VaultDir())
	}

	svc, backends, err := newService(cfg, picker, slog.Default())
	if err != nil {
		return nil, err
	}
	active.svc = svc
	active.backends = backends
	return svc, nil
}

// newService wires the backends, registry and vault service for c.
// Native files are skipped entirely in a sandboxed runtime.
func newService(c *config.Config, picker store.Picker, logger *slog.Logger) (*vault.Service, []store.Backend, error) {
	embedded := store.NewBoltBackend(c.BoltPath(), store.WithLogger(logger))
	backends := []store.Backend{embedded}

	var native store.Backend
	if !c.Sandboxed {
		native = store.NewFileBackend(c.VaultDir(), picker)
		backends = append(backends, native)
	}

	var primary store.Backend
	var err error
	switch c.Backend {
	case config.BackendNative:
		if native == nil || !native.Supported() {
			err = fmt.Errorf("%w: native files", store.ErrUnsupported)
		}
		primary = native
	case config.BackendEmbedded:
		if !embedded.Supported() {
			err = fmt.Errorf("%w: embedded store", store.ErrUnsupported)
		}
		primary = embedded
	default:
		primary, err = store.Select(native, embedded, c.Sandboxed)
	}
	if err != nil {
		closeBackends(backends)
		return nil, nil, fmt.Errorf("%w: %w", vault.ErrUnsupported, err)
	}

	svc, err := vault.New(primary, registry.New(c.RegistryFile, logger),
		vault.WithBackend(native),
		vault.WithBackend(embedded),
		vault.WithCipher(c.Cipher),
		vault.WithKDFParams(c.KDF),
		vault.WithUnlockLimit(rate.Every(c.Unlock.Rate), c.Unlock.Burst),
		vault.WithLogger(logger),
	)
	if err != nil {
		closeBackends(backends)
		return nil, nil, err
	}

	logger.Debug("vault service ready", "backend", primary.Kind(), "registry", c.RegistryFile)
	return svc, backends, nil
}

func closeBackends(backends []store.Backend) {
	for _, b := range backends {
		if err := b.Close(); err != nil {
			slog.Warn("failed to close backend", "backend", b.Kind(), "error", err)
		}
	}
}

// teardown closes the service and writes the metrics textfile if one is
// configured.
func teardown() {
	closeBackends(active.backends)
	active.svc = nil
	active.backends = nil

	if cfg != nil && cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			Warning("failed to write metrics: %v", err)
		}
	}
}

// vaultName sanitizes a vault name argument and reports when it changed.
func vaultName(arg string) (string, error) {
	name := validation.SanitizeVaultName(arg)
	if err := validation.VaultName(name); err != nil {
		return "", fmt.Errorf("%w: %w", vault.ErrInvalidName, err)
	}
	if name != strings.TrimSuffix(strings.TrimSpace(arg), store.FileExtension) {
		Info("Using vault name %q", name)
	}
	return name, nil
}

// openSession unlocks the named vault. It tries OPVAULT_PASSWORD first,
// then prompts interactively.
func openSession(ctx context.Context, name string) (*vault.Session, error) {
	svc, err := service()
	if err != nil {
		return nil, err
	}

	password, err := readPassword(fmt.Sprintf("Password for %s: ", name))
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(password)

	return svc.OpenVault(ctx, name, password)
}

// readPassword returns OPVAULT_PASSWORD when set, or prompts for one.
func readPassword(prompt string) ([]byte, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return []byte(p), nil
	}
	return promptPassword(prompt)
}

// readNewPassword returns the value of env when set, or prompts twice.
func readNewPassword(env string) ([]byte, error) {
	if p := os.Getenv(env); p != "" {
		return []byte(p), nil
	}
	return promptPasswordConfirm()
}

// promptPassword reads a password from the terminal with echo disabled.
func promptPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal to prompt for a password; set %s", passwordEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// promptPasswordConfirm prompts for a password twice and ensures they match.
func promptPasswordConfirm() ([]byte, error) {
	password, err := promptPassword("New password: ")
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, vault.ErrInvalidPassword
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		crypto.ZeroBytes(password)
		return nil, err
	}
	defer crypto.ZeroBytes(confirm)
	if string(password) != string(confirm) {
		crypto.ZeroBytes(password)
		return nil, errors.New("passwords do not match")
	}
	return password, nil
}
