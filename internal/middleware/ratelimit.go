package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// requestRecord tracks recent requests for one key
type requestRecord struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// RateLimiter is an in-memory sliding-window limiter keyed by owner ID,
// or by client IP for unauthenticated requests.
type RateLimiter struct {
	limit   int
	window  time.Duration
	records sync.Map // map[string]*requestRecord
	cleanup *time.Ticker
	done    chan struct{}
	now     func() time.Time
}

// NewRateLimiter allows limit requests per window per key. A limit of
// zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		cleanup: time.NewTicker(window),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanupOldEntries()

	return rl
}

// cleanupOldEntries drops keys with no requests inside the window
func (rl *RateLimiter) cleanupOldEntries() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanup.C:
		}

		cutoff := rl.now().Add(-rl.window)
		rl.records.Range(func(key, value any) bool {
			record := value.(*requestRecord)
			record.mu.Lock()
			defer record.mu.Unlock()

			record.prune(cutoff)
			if len(record.timestamps) == 0 {
				rl.records.Delete(key)
			}
			return true
		})
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.cleanup.Stop()
	close(rl.done)
}

// prune removes timestamps at or before cutoff, reusing the backing array.
// Caller holds mu.
func (rec *requestRecord) prune(cutoff time.Time) {
	kept := rec.timestamps[:0]
	for _, ts := range rec.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.timestamps = kept
}

// allow records a request for key and reports whether it is within the
// limit. When it is not, it also returns how long until a slot frees up.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	now := rl.now()

	value, _ := rl.records.LoadOrStore(key, &requestRecord{})
	record := value.(*requestRecord)

	record.mu.Lock()
	defer record.mu.Unlock()

	record.prune(now.Add(-rl.window))

	if len(record.timestamps) >= rl.limit {
		return false, record.timestamps[0].Add(rl.window).Sub(now)
	}

	record.timestamps = append(record.timestamps, now)
	return true, 0
}

// Middleware enforces the limit on every request it wraps. It must run
// after APITokenAuth so requests are keyed by owner.
func (rl *RateLimiter) Middleware(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := OwnerID(r.Context())
			if key == "" {
				key = "ip:" + getClientIP(r)
			}

			ok, retryAfter := rl.allow(key)
			if !ok {
				slog.Warn("rate limit exceeded",
					"key", key,
					"limit_type", name,
					"limit", rl.limit,
					"path", r.URL.Path,
				)
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", "RATE_LIMITED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
