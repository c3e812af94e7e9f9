package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestID middleware stamps every request with an id, echoed in the
// X-Request-ID response header and reused by problem responses.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// LimiterStore answers whether one more request from a client key may
// proceed. The in-process MemoryLimiter is the default; RedisLimiter
// serves deployments where several bridge processes share a budget.
type LimiterStore interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps a token bucket per client key.
type MemoryLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

// visitor tracks the rate limiter and last seen time for a client.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-process limiter.
// rps: requests per second allowed. burst: maximum burst size.
func NewMemoryLimiter(rps int, burst int) *MemoryLimiter {
	l := &MemoryLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	// Start background cleanup
	go l.cleanupVisitors()
	return l
}

// Allow implements LimiterStore.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.getVisitor(key).Allow(), nil
}

// getVisitor retrieves the limiter for a given key, creating if necessary.
func (l *MemoryLimiter) getVisitor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(l.rps, l.burst)
		l.visitors[key] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale visitor entries to prevent memory leaks.
// Checks every minute, removes entries older than 3 minutes.
func (l *MemoryLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		l.mu.Lock()
		for key, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, key)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit enforces the limiter store per client IP. A store error
// fails open: a broken Redis must not take the approval surface down
// with it, local callers are trusted that far.
func RateLimit(store LimiterStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := store.Allow(r.Context(), clientKey(r))
			if err == nil && !ok {
				WriteTooManyRequests(w, 5)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
