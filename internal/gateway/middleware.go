package gateway

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxBodySize rejects with a 413, ahead of JSON parsing, any request whose
// declared Content-Length exceeds maxBytes. A body sent without a declared
// length is cut off at maxBytes by http.MaxBytesReader, so the handler that
// reads it sees a read error rather than a 413.
func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "request body exceeds the size limit")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ipRateLimiter is a coarse per-IP sliding-window floor, independent of
// the PolicyEngine's per-key checks; it exists purely to blunt abusive
// clients before they reach the request body at all.
type ipRateLimiter struct {
	logger  zerolog.Logger
	rpm     int
	mu      sync.Mutex
	windows map[string][]time.Time
}

func newIPRateLimiter(logger zerolog.Logger, rpm int) *ipRateLimiter {
	return &ipRateLimiter{logger: logger, rpm: rpm, windows: make(map[string][]time.Time)}
}

func (l *ipRateLimiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.rpm <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		allowed, remaining := l.allow(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", "60")
			l.logger.Warn().Str("client_ip", ip).Msg("ip rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests from this client")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ipRateLimiter) allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-1 * time.Minute)

	tokens := l.windows[key]
	valid := tokens[:0]
	for _, t := range tokens {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	remaining := l.rpm - len(valid)
	if remaining <= 0 {
		l.windows[key] = valid
		return false, 0
	}
	l.windows[key] = append(valid, now)
	return true, remaining - 1
}

// requestLogger logs one line per completed request, grounded on the
// teacher's own chi-based access logger.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
