// Package vault provides high-level vault operations that orchestrate
// cryptographic operations, persistent storage, payload migration and the
// vault registry.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Adam-Moller/secure-opus-vault/internal/crypto"
	"github.com/Adam-Moller/secure-opus-vault/internal/envelope"
	"github.com/Adam-Moller/secure-opus-vault/internal/logging"
	"github.com/Adam-Moller/secure-opus-vault/internal/metrics"
	"github.com/Adam-Moller/secure-opus-vault/internal/registry"
	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
	"github.com/Adam-Moller/secure-opus-vault/internal/store"
	"github.com/Adam-Moller/secure-opus-vault/internal/validation"
)

// Service is the upward interface to encrypted vaults.
type Service struct {
	primary  store.Backend
	backends map[store.BackendKind]store.Backend
	registry *registry.Registry

	cipher  crypto.Cipher
	kdf     crypto.KDFParams
	limiter *unlockLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCipher sets the AEAD suite for newly sealed envelopes.
func WithCipher(c crypto.Cipher) Option {
	return func(s *Service) {
		s.cipher = c
	}
}

// WithKDFParams sets the key derivation parameters for new envelopes.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(s *Service) {
		s.kdf = p
	}
}

// WithBackend makes b available for vaults the registry records on it.
// New vaults still go to the primary backend.
func WithBackend(b store.Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backends[b.Kind()] = b
		}
	}
}

// WithUnlockLimit throttles failed unlocks per vault name. A zero burst
// disables throttling.
func WithUnlockLimit(limit rate.Limit, burst int) Option {
	return func(s *Service) {
		if burst <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newUnlockLimiter(limit, burst)
	}
}

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New returns a service writing new vaults to primary.
func New(primary store.Backend, reg *registry.Registry, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, ErrUnsupported
	}
	if reg == nil {
		return nil, errors.New("vault registry is required")
	}
	s := &Service{
		primary:  primary,
		backends: map[store.BackendKind]store.Backend{primary.Kind(): primary},
		registry: reg,
		cipher:   crypto.CipherAES256GCM,
		kdf:      crypto.DefaultKDFParams(),
		limiter:  newUnlockLimiter(rate.Every(10*time.Second), 5),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.cipher.Valid() {
		return nil, fmt.Errorf("%w: %d", crypto.ErrUnknownCipher, s.cipher)
	}
	if err := s.kdf.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Backend returns the primary backend.
func (s *Service) Backend() store.Backend { return s.primary }

// Registry returns the vault registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// backendFor returns the backend holding name: the one the registry records
// when it is configured here, the primary backend otherwise.
func (s *Service) backendFor(name string) store.Backend {
	if e, ok := s.registry.Get(name); ok && e.Backend != "" {
		if b, ok := s.backends[e.Backend]; ok {
			return b
		}
	}
	return s.primary
}

// exists reports whether name is stored in b.
func (s *Service) exists(ctx context.Context, b store.Backend, name string) (bool, error) {
	names, err := b.List(ctx)
	if err != nil {
		return false, mapError(err)
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func checkName(name string) error {
	if err := validation.VaultName(name); err != nil {
		return mapError(err)
	}
	return nil
}

// CreateVault creates and saves an empty vault of kind and returns an open
// session for it.
func (s *Service) CreateVault(ctx context.Context, name string, password []byte, kind schema.Kind) (_ *Session, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("create", start, err) }()

	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := validation.Password(password); err != nil {
		return nil, mapError(err)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownKind, kind)
	}

	b := s.primary
	found, err := s.exists(ctx, b, name)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, fmt.Errorf("%w: %q", ErrVaultExists, name)
	}

	key, err := newSessionKey(s.kdf, s.cipher, password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	payload, err := schema.NewPayload(name, kind, now)
	if err != nil {
		key.destroy()
		return nil, mapError(err)
	}

	data, err := s.seal(key, payload)
	if err != nil {
		key.destroy()
		return nil, err
	}
	h, err := b.Write(ctx, name, data, nil)
	if err != nil {
		key.destroy()
		return nil, mapError(err)
	}

	if err := s.registry.Upsert(registry.Entry{
		VaultName:      name,
		Kind:           kind,
		ItemCount:      0,
		Backend:        b.Kind(),
		CreatedAt:      now,
		LastOpenedAt:   now,
		LastModifiedAt: now,
	}); err != nil {
		s.logger.Warn("failed to record vault in registry", "vault", name, "error", err)
	}

	sess := s.newSession(b, name, key, h, payload)
	logging.From(sess.Context(ctx), s.logger).Info("vault created", "vault", name, "kind", kind, "backend", b.Kind())
	return sess, nil
}

// OpenVault decrypts the vault stored under name. The payload is migrated to
// the current shape in memory; it is written back on the next save.
func (s *Service) OpenVault(ctx context.Context, name string, password []byte) (_ *Session, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("open", start, err) }()

	if err := checkName(name); err != nil {
		return nil, err
	}
	if !s.limiter.allow(name) {
		metrics.UnlockThrottled.Inc()
		return nil, fmt.Errorf("%w: %q", ErrThrottled, name)
	}

	b := s.backendFor(name)
	data, h, err := b.Read(ctx, name, nil)
	if err != nil {
		return nil, mapError(err)
	}

	payload, key, err := s.unseal(data, password)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			s.limiter.fail(name)
		}
		return nil, err
	}
	s.limiter.succeed(name)

	if payload.VaultName != name {
		payload.VaultName = name
	}

	// Envelopes from the browser-era application use PBKDF2. Re-key with the
	// current KDF so the next save upgrades them.
	if key.params.KDF != s.kdf.KDF {
		next, err := newSessionKey(s.kdf, key.cipher, password)
		if err != nil {
			key.destroy()
			return nil, err
		}
		s.logger.Info("vault will be re-keyed on next save", "vault", name, "from", key.params.KDF, "to", s.kdf.KDF)
		key.destroy()
		key = next
	}

	s.recordOpen(name, b.Kind(), payload)

	sess := s.newSession(b, name, key, h, payload)
	logging.From(sess.Context(ctx), s.logger).Info("vault opened", "vault", name, "kind", payload.Kind, "items", payload.ItemCount())
	return sess, nil
}

func (s *Service) recordOpen(name string, backend store.BackendKind, p *schema.Payload) {
	now := s.now().UTC()
	count := p.ItemCount()

	var err error
	if e, ok := s.registry.Get(name); ok && e.Kind == p.Kind {
		err = s.registry.Patch(name, registry.Patch{
			ItemCount:    &count,
			Backend:      &backend,
			LastOpenedAt: &now,
		})
	} else {
		err = s.registry.Upsert(registry.Entry{
			VaultName:      name,
			Kind:           p.Kind,
			ItemCount:      count,
			Backend:        backend,
			CreatedAt:      p.CreatedAt,
			LastOpenedAt:   now,
			LastModifiedAt: p.ModifiedAt,
		})
	}
	if err != nil {
		s.logger.Warn("failed to update registry", "vault", name, "error", err)
	}
}

// SaveVault saves payload through the session's save queue.
func (s *Service) SaveVault(ctx context.Context, sess *Session, payload *schema.Payload) error {
	return sess.Save(ctx, payload)
}

// DeleteVault removes the stored vault and its registry entry. The registry
// entry is removed even when no bytes were found.
func (s *Service) DeleteVault(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("delete", start, err) }()

	if err := checkName(name); err != nil {
		return err
	}

	b := s.backendFor(name)
	removeErr := b.Remove(ctx, name)
	if removeErr != nil && !errors.Is(removeErr, store.ErrNotFound) {
		return mapError(removeErr)
	}

	if err := s.registry.Remove(name); err != nil {
		s.logger.Warn("failed to remove vault from registry", "vault", name, "error", err)
	}
	s.limiter.succeed(name)

	if removeErr != nil {
		return mapError(removeErr)
	}
	s.logger.Info("vault deleted", "vault", name, "backend", b.Kind())
	return nil
}

// ListKnownVaults returns the registry entries, after dropping entries whose
// bytes are gone from a backend that can enumerate its vaults.
func (s *Service) ListKnownVaults(ctx context.Context) ([]registry.Entry, error) {
	for kind, b := range s.backends {
		if !b.Enumerable() {
			continue
		}
		names, err := b.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Debug("skipping registry reconcile", "backend", kind, "error", err)
			continue
		}
		if _, err := s.registry.Reconcile(kind, names); err != nil {
			s.logger.Warn("failed to reconcile registry", "backend", kind, "error", err)
		}
	}

	entries := s.registry.List()
	byKind := make(map[string]int)
	for _, e := range entries {
		byKind[string(e.Kind)]++
	}
	metrics.SetKnownVaults(byKind)
	return entries, nil
}

// ChangePassword re-encrypts the vault under a key derived from newPassword.
func (s *Service) ChangePassword(ctx context.Context, name string, oldPassword, newPassword []byte) (err error) {
	sess, err := s.OpenVault(ctx, name, oldPassword)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.ChangePassword(ctx, newPassword)
}

// ---------------------------------------------------------------------------
// Sealing
// ---------------------------------------------------------------------------

// sessionKey is the derived key of an open vault with the parameters it was
// derived with. Saves reuse the salt; every seal draws a fresh nonce.
type sessionKey struct {
	key    []byte
	salt   []byte
	params crypto.KDFParams
	cipher crypto.Cipher
}

func newSessionKey(p crypto.KDFParams, c crypto.Cipher, password []byte) (*sessionKey, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return deriveSessionKey(p, c, password, salt)
}

func deriveSessionKey(p crypto.KDFParams, c crypto.Cipher, password, salt []byte) (*sessionKey, error) {
	key, err := crypto.DeriveKeyWith(p, password, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	if err := crypto.LockMemory(key); err != nil {
		slog.Debug("could not lock key memory", "error", err)
	}
	return &sessionKey{key: key, salt: salt, params: p, cipher: c}, nil
}

func (k *sessionKey) destroy() {
	if k == nil || k.key == nil {
		return
	}
	crypto.ZeroBytes(k.key)
	_ = crypto.UnlockMemory(k.key)
	k.key = nil
}

// seal serializes p and wraps it in an envelope. Workforce bodies get their
// nested store employee lists rebuilt so older readers see current data.
func (s *Service) seal(k *sessionKey, p *schema.Payload) ([]byte, error) {
	out := *p
	if out.Body.Workforce != nil {
		out.Body = schema.SyncEmployeesToStores(out.Body)
	}

	plaintext, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	defer crypto.ZeroBytes(plaintext)

	env := &envelope.Envelope{
		Version: envelope.Version1,
		KDF:     k.params,
		Cipher:  k.cipher,
		Salt:    k.salt,
	}
	env.Nonce, env.Ciphertext, err = crypto.Seal(k.cipher, k.key, plaintext, env.AAD())
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	metrics.EncryptionOperations.WithLabelValues("seal").Inc()

	return envelope.Marshal(env)
}

// unseal parses, decrypts and migrates a stored envelope.
func (s *Service) unseal(data, password []byte) (*schema.Payload, *sessionKey, error) {
	env, err := envelope.Parse(data)
	if err != nil {
		return nil, nil, mapError(err)
	}

	key, err := deriveSessionKey(env.KDF, env.Cipher, password, env.Salt)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := crypto.Open(env.Cipher, key.key, env.Nonce, env.Ciphertext, env.AAD())
	metrics.EncryptionOperations.WithLabelValues("open").Inc()
	if err != nil {
		key.destroy()
		return nil, nil, mapError(err)
	}
	defer crypto.ZeroBytes(plaintext)

	payload, err := schema.DecodePayload(plaintext)
	if err != nil {
		key.destroy()
		return nil, nil, mapError(err)
	}
	return payload, key, nil
}

func (s *Service) newSession(b store.Backend, name string, key *sessionKey, h store.Handle, p *schema.Payload) *Session {
	sess := &Session{
		id:      uuid.NewString(),
		svc:     s,
		backend: b,
		name:    name,
		kind:    p.Kind,
		key:     key,
		handle:  h,
		payload: p,
	}
	sess.idle.L = &sess.mu
	sess.logger = s.logger.With("session_id", sess.id, "vault", name)
	metrics.OpenSessions.Inc()
	return sess
}
