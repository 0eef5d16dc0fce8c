package vault

import (
	"context"
	"sync"
	"time"

	"github.com/Adam-Moller/secure-opus-vault/internal/schema"
)

// AutoSaver debounces edits: each Touch restarts a timer, and when the timer
// fires the latest payload goes through the session's save queue.
type AutoSaver struct {
	session *Session
	delay   time.Duration
	onError func(error)

	mu      sync.Mutex
	timer   *time.Timer
	latest  *schema.Payload
	stopped bool

	// inflight counts timer saves that took a payload and have not returned.
	inflight sync.WaitGroup
}

// NewAutoSaver returns an AutoSaver for s. onError, if not nil, receives
// errors from saves the timer started.
func NewAutoSaver(s *Session, delay time.Duration, onError func(error)) *AutoSaver {
	return &AutoSaver{session: s, delay: delay, onError: onError}
}

// Touch records p as the latest edit and restarts the delay.
func (a *AutoSaver) Touch(p *schema.Payload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.latest = p
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, a.fire)
}

func (a *AutoSaver) take(fromTimer bool) *schema.Payload {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.latest
	a.latest = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if p != nil && fromTimer {
		a.inflight.Add(1)
	}
	return p
}

func (a *AutoSaver) fire() {
	p := a.take(true)
	if p == nil {
		return
	}
	defer a.inflight.Done()

	if err := a.session.Save(a.session.Context(context.Background()), p); err != nil {
		a.session.logger.Warn("auto-save failed", "error", err)
		if a.onError != nil {
			a.onError(err)
		}
	}
}

// Flush saves the latest edit now if one is waiting.
func (a *AutoSaver) Flush(ctx context.Context) error {
	p := a.take(false)
	if p == nil {
		return nil
	}
	return a.session.Save(ctx, p)
}

// Stop disables further Touch calls, waits for a save the timer already
// started and then saves the latest edit. Once it returns the session can be
// closed without losing an edit.
func (a *AutoSaver) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	// After this take no timer save can pick up a payload, so Wait does not
	// race with Add.
	p := a.take(false)
	a.inflight.Wait()
	if p == nil {
		return nil
	}
	return a.session.Save(ctx, p)
}
