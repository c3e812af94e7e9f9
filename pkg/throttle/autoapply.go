// Package throttle bounds runaway automation. A matching auto-approval
// rule could otherwise apply an unbounded stream of actions in a loop;
// the session limiter caps how many applies the policy engine may trigger
// per session before a human has to step back in.
package throttle

import (
	"sync"
	"time"
)

const (
	// DefaultCap is the number of automatic applies allowed per session
	// before falling back to manual review.
	DefaultCap = 5

	// DefaultTTL is how long an idle session's counter survives before
	// it is dropped. Keeps the tracking map bounded without a sweeper.
	DefaultTTL = time.Hour
)

// SessionLimiter counts automatic applies per session. Entries expire
// after the TTL so abandoned sessions do not accumulate.
type SessionLimiter struct {
	mu       sync.Mutex
	cap      int
	ttl      time.Duration
	clock    func() time.Time
	sessions map[string]*sessionCount
}

type sessionCount struct {
	n       int
	touched time.Time
}

// NewSessionLimiter builds a limiter. Non-positive cap or ttl fall back
// to the defaults.
func NewSessionLimiter(cap int, ttl time.Duration) *SessionLimiter {
	if cap <= 0 {
		cap = DefaultCap
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionLimiter{
		cap:      cap,
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[string]*sessionCount),
	}
}

// WithClock overrides the time source for tests.
func (l *SessionLimiter) WithClock(clock func() time.Time) *SessionLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
	return l
}

// Track consumes one automatic apply for the session. It reports false
// once the session's budget is exhausted; exhausted sessions stay
// exhausted until Reset or TTL expiry.
func (l *SessionLimiter) Track(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	l.evictLocked(now)

	sc := l.sessions[sessionID]
	if sc == nil {
		sc = &sessionCount{}
		l.sessions[sessionID] = sc
	}
	sc.touched = now

	if sc.n >= l.cap {
		return false
	}
	sc.n++
	return true
}

// Reset clears the session's counter. Called when a human makes a manual
// decision, which proves someone is still watching.
func (l *SessionLimiter) Reset(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.clock())
	delete(l.sessions, sessionID)
}

// Remaining reports how many automatic applies the session has left.
func (l *SessionLimiter) Remaining(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.clock())
	sc := l.sessions[sessionID]
	if sc == nil {
		return l.cap
	}
	if sc.n >= l.cap {
		return 0
	}
	return l.cap - sc.n
}

// evictLocked drops entries idle past the TTL. Runs under the lock on
// every public call, which is cheap at the session counts involved.
func (l *SessionLimiter) evictLocked(now time.Time) {
	for id, sc := range l.sessions {
		if now.Sub(sc.touched) > l.ttl {
			delete(l.sessions, id)
		}
	}
}
