package vault

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Adam-Moller/secure-opus-vault/internal/envelope"
	"github.com/Adam-Moller/secure-opus-vault/internal/metrics"
)

// maxImportSize bounds how much ImportVault reads.
const maxImportSize = 1<<30 + 1<<20

// ExportVault copies the sealed envelope of name to w unchanged. No password
// is needed; the output is as protected as the stored vault.
func (s *Service) ExportVault(ctx context.Context, name string, w io.Writer) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("export", start, err) }()

	if err := checkName(name); err != nil {
		return err
	}

	data, _, err := s.backendFor(name).Read(ctx, name, nil)
	if err != nil {
		return mapError(err)
	}
	if _, err := envelope.Parse(data); err != nil {
		return mapError(err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// ImportVault stores an exported envelope under name in the primary backend
// and returns an open session for it. The password is checked before
// anything is written, so a wrong password or a foreign file stores nothing.
func (s *Service) ImportVault(ctx context.Context, name string, r io.Reader, password []byte) (_ *Session, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("import", start, err) }()

	if err := checkName(name); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxImportSize))
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	if !envelope.Sniff(data) {
		return nil, fmt.Errorf("%w: missing vault header", ErrFormat)
	}

	b := s.primary
	found, err := s.exists(ctx, b, name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, fmt.Errorf("%w: %q", ErrVaultExists, name)
	}

	payload, key, err := s.unseal(data, password)
	if err != nil {
		return nil, err
	}
	payload.VaultName = name

	h, err := b.Write(ctx, name, data, nil)
	if err != nil {
		key.destroy()
		return nil, mapError(err)
	}

	s.recordOpen(name, b.Kind(), payload)

	sess := s.newSession(b, name, key, h, payload)
	sess.logger.Info("vault imported", "kind", payload.Kind, "items", payload.ItemCount())
	return sess, nil
}
