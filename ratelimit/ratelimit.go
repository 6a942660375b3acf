// Package ratelimit implements a fixed-window request counter keyed by
// caller identity. It is a server-side collaborator: the surrounding
// framework consults it before a request reaches application logic. The
// client pipeline in the parent package is a rate-limit *subject*, not a
// limiter, which is why this lives outside it.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Result reports the outcome of one Allow call.
type Result struct {
	// Allowed is false once the identity has spent its window budget.
	Allowed bool
	// Remaining is how many requests the identity has left in the window.
	Remaining int
	// ResetAt is when the current window rolls over and the budget refills.
	ResetAt time.Time
}

type window struct {
	count int
	start time.Time
}

// Limiter counts requests per identity in fixed windows: the first request
// from an identity opens its window, every request inside it increments the
// counter, and the counter resets when the window elapses. Identities idle
// for a full window are pruned opportunistically.
type Limiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	windows   map[string]*window
	lastPrune time.Time

	now func() time.Time
}

// New creates a limiter allowing limit requests per identity per window.
// A limit below one is raised to one and a non-positive window defaults to
// one minute.
func New(limit int, windowSize time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &Limiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it fits in the
// current window.
func (l *Limiter) Allow(key string) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybePrune(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[key] = w
	}

	resetAt := w.start.Add(l.window)
	if w.count >= l.limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	w.count++
	return Result{Allowed: true, Remaining: l.limit - w.count, ResetAt: resetAt}
}

// Remaining peeks at key's budget without consuming any of it. Unknown or
// expired identities have the full limit available.
func (l *Limiter) Remaining(key string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		return l.limit
	}
	remaining := l.limit - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset forgets key's current window, refilling its budget immediately.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Len reports how many identities are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Prune removes every expired window and returns how many were dropped.
func (l *Limiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prune(now)
}

// maybePrune sweeps at most once per window so a hot limiter does not scan
// the whole map on every call. Callers hold l.mu.
func (l *Limiter) maybePrune(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	l.prune(now)
}

func (l *Limiter) prune(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
			removed++
		}
	}
	l.lastPrune = now
	return removed
}

// KeyFunc derives the caller identity a request is limited under.
type KeyFunc func(*http.Request) string

// IdentityFromRequest is the default KeyFunc: the first hop of
// X-Forwarded-For when present, otherwise the remote address host.
func IdentityFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return "ip:" + ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return "ip:unknown"
}

// limitedBody is the envelope written on a rejected request, matching the
// error shape the API returns everywhere else.
type limitedBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Middleware wraps next with the limiter, answering exhausted identities
// with 429 and rate-limit headers. A nil keyFn falls back to
// IdentityFromRequest.
func Middleware(l *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = IdentityFromRequest
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Allow(keyFn(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := time.Until(res.ResetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				h.Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				body := limitedBody{Timestamp: time.Now()}
				body.Error.Code = "RATE_LIMITED"
				body.Error.Message = "rate limit exceeded, retry after " + res.ResetAt.Format(time.RFC3339)
				_ = json.NewEncoder(w).Encode(body)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
