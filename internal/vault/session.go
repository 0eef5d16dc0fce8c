package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adam-Moller/secure-opus-vault/internal/logging"
	"github.com/Adam-Moller/secure-opus-vault/internal/metrics"
	"github.com/Adam-Moller/secure-opus-vault/internal/registry"
	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
	"github.com/Adam-Moller/secure-opus-vault/internal/store"
)

// Session is an unlocked vault. It holds the derived key until Close.
//
// Saves are serialized: while one save is being written, further saves wait
// in a single pending slot. A newer payload replaces the pending one, and
// every caller waiting on that slot gets the result of the write that
// carried the newest payload.
type Session struct {
	id      string
	svc     *Service
	backend store.Backend
	name    string
	kind    schema.Kind
	logger  *slog.Logger

	mu      sync.Mutex
	idle    sync.Cond // signaled when saving becomes false
	key     *sessionKey
	handle  store.Handle
	payload *schema.Payload
	saving  bool
	pending *saveRequest
	closing bool
	closed  bool
}

type saveRequest struct {
	payload *schema.Payload
	done    chan struct{}
	err     error
}

func newSaveRequest(p *schema.Payload) *saveRequest {
	return &saveRequest{payload: p, done: make(chan struct{})}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Name returns the vault name.
func (s *Session) Name() string { return s.name }

// Kind returns the vault kind.
func (s *Session) Kind() schema.Kind { return s.kind }

// Backend returns which backend holds the vault.
func (s *Session) Backend() store.BackendKind { return s.backend.Kind() }

// Context returns ctx tagged with the session ID for logging.
func (s *Session) Context(ctx context.Context) context.Context {
	return logging.WithSessionID(ctx, s.id)
}

// Payload returns a copy of the most recently opened or saved payload.
func (s *Session) Payload() (*schema.Payload, error) {
	s.mu.Lock()
	p := s.payload
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrSessionClosed
	}
	return p.Clone()
}

// Save encrypts payload and writes it to the backend. It returns when the
// payload, or a newer one queued after it, has been written.
func (s *Session) Save(ctx context.Context, payload *schema.Payload) error {
	if payload == nil {
		return errors.New("nil payload")
	}
	if payload.Kind != s.kind {
		return fmt.Errorf("%w: vault is %s, payload is %s", ErrKindMismatch, s.kind, payload.Kind)
	}

	// Snapshot so the caller can keep editing while the write runs.
	snapshot, err := payload.Clone()
	if err != nil {
		return mapError(err)
	}
	snapshot.VaultName = s.name

	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	var req *saveRequest
	if s.saving {
		if s.pending == nil {
			s.pending = newSaveRequest(snapshot)
		} else {
			s.pending.payload = snapshot
			metrics.SavesCoalesced.Inc()
		}
		req = s.pending
		s.mu.Unlock()
		s.logger.Debug("save queued behind in-flight save")
	} else {
		s.saving = true
		req = newSaveRequest(snapshot)
		s.mu.Unlock()
		go s.drain(context.WithoutCancel(s.Context(ctx)), req)
	}

	select {
	case <-req.done:
		return req.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain writes req and then each request queued meanwhile until the queue
// is empty. Only one drain runs at a time.
func (s *Session) drain(ctx context.Context, req *saveRequest) {
	for req != nil {
		req.err = s.write(ctx, req.payload)
		close(req.done)
		req = s.next()
	}
}

// next takes the pending request, or marks the session idle when there is none.
func (s *Session) next() *saveRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.pending
	s.pending = nil
	if req == nil {
		s.saving = false
		s.idle.Broadcast()
	}
	return req
}

// write seals p and stores it. Only the drain goroutine or a holder of the
// saving flag calls it, so key and handle are not changed concurrently.
func (s *Session) write(ctx context.Context, p *schema.Payload) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("save", start, err) }()

	now := s.svc.now().UTC()
	p.ModifiedAt = now

	data, err := s.svc.seal(s.key, p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	next, err := s.backend.Write(ctx, s.name, data, h)
	if err != nil {
		if errors.Is(err, store.ErrAccessLost) {
			// Forget the handle; the next save asks for a location again.
			s.mu.Lock()
			s.handle = nil
			s.mu.Unlock()
		}
		s.logger.Warn("save failed", "error", err)
		return mapError(err)
	}

	s.mu.Lock()
	s.handle = next
	s.payload = p
	s.mu.Unlock()

	count := p.ItemCount()
	backend := s.backend.Kind()
	if err := s.svc.registry.Patch(s.name, registry.Patch{
		ItemCount:      &count,
		Backend:        &backend,
		LastModifiedAt: &now,
	}); err != nil {
		s.logger.Warn("failed to update registry", "error", err)
	}

	s.logger.Debug("vault saved", "items", count, "bytes", len(data))
	return nil
}

// acquire waits for the save queue to go idle and takes it exclusively.
func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.saving && !s.closing {
		s.idle.Wait()
	}
	if s.closing || s.closed {
		return ErrSessionClosed
	}
	s.saving = true
	return nil
}

// release gives the queue back, starting a drain for saves queued meanwhile.
func (s *Session) release(ctx context.Context) {
	if req := s.next(); req != nil {
		go s.drain(context.WithoutCancel(ctx), req)
	}
}

// ChangePassword re-encrypts the current payload under a key derived from
// newPassword with a fresh salt. The old key stays in use if the write fails.
func (s *Session) ChangePassword(ctx context.Context, newPassword []byte) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("change_password", start, err) }()

	if len(newPassword) == 0 {
		return ErrInvalidPassword
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release(s.Context(ctx))

	next, err := newSessionKey(s.svc.kdf, s.svc.cipher, newPassword)
	if err != nil {
		return err
	}

	s.mu.Lock()
	current := s.payload
	s.mu.Unlock()

	snapshot, err := current.Clone()
	if err != nil {
		next.destroy()
		return mapError(err)
	}

	prev := s.key
	s.key = next
	if err := s.write(ctx, snapshot); err != nil {
		s.key = prev
		next.destroy()
		return err
	}
	prev.destroy()

	s.logger.Info("vault password changed")
	return nil
}

// Close waits for in-flight and queued saves, then zeroes the key. Further
// saves fail with ErrSessionClosed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	for s.saving {
		s.idle.Wait()
	}
	s.closed = true
	s.key.destroy()
	s.mu.Unlock()

	metrics.OpenSessions.Dec()
	s.logger.Debug("session closed")
	return nil
}
