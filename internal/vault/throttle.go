package vault

import (
	"sync"

	"golang.org/x/time/rate"
)

// unlockLimiter slows down password guessing against a vault name. Only
// failed attempts spend tokens, so a user who types the right password is
// never delayed.
type unlockLimiter struct {
	limit rate.Limit
	burst int

	mu     sync.Mutex
	byName map[string]*rate.Limiter
}

func newUnlockLimiter(limit rate.Limit, burst int) *unlockLimiter {
	if burst < 1 {
		burst = 1
	}
	return &unlockLimiter{
		limit:  limit,
		burst:  burst,
		byName: make(map[string]*rate.Limiter),
	}
}

func (u *unlockLimiter) get(name string) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	l, ok := u.byName[name]
	if !ok {
		l = rate.NewLimiter(u.limit, u.burst)
		u.byName[name] = l
	}
	return l
}

// allow reports whether another attempt on name may run now.
func (u *unlockLimiter) allow(name string) bool {
	if u == nil {
		return true
	}
	return u.get(name).Tokens() >= 1
}

// fail records a failed attempt.
func (u *unlockLimiter) fail(name string) {
	if u == nil {
		return
	}
	u.get(name).Allow()
}

// succeed forgets earlier failures for name.
func (u *unlockLimiter) succeed(name string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	delete(u.byName, name)
	u.mu.Unlock()
}
