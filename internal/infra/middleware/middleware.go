// Package middleware wraps the game endpoint with rate limiting, panic
// recovery, request logging and a loopback guard.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RejectFunc writes a refusal. The gateway supplies one that renders its
// error envelope; PlainReject is the fallback.
type RejectFunc func(w http.ResponseWriter, r *http.Request, status int, code domain.ErrorCode, msg string)

// PlainReject writes msg as text/plain.
func PlainReject(w http.ResponseWriter, _ *http.Request, status int, _ domain.ErrorCode, msg string) {
	http.Error(w, msg, status)
}

func rejecter(fn RejectFunc) RejectFunc {
	if fn == nil {
		return PlainReject
	}
	return fn
}

// staleClientAfter is how long an idle client keeps its bucket.
const staleClientAfter = 3 * time.Minute

// RateLimit implements token bucket rate limiting per client IP. The cleanup
// goroutine stops when ctx is cancelled. A disabled config returns a
// pass-through middleware.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig, reject RejectFunc) Middleware {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	reject = rejecter(reject)

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	clients := make(map[string]*client)
	mu := &sync.Mutex{}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if time.Since(c.lastSeen) > staleClientAfter {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			mu.Lock()
			c, ok := clients[ip]
			if !ok {
				c = &client{limiter: rate.NewLimiter(perSecond, cfg.Burst)}
				clients[ip] = c
			}
			c.lastSeen = time.Now()
			limiter := c.limiter
			mu.Unlock()

			if !limiter.Allow() {
				reject(w, r, http.StatusTooManyRequests, domain.CodeRateLimit, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoopbackOnly refuses requests whose peer is not a loopback address. The
// game and the server always share a machine.
func LoopbackOnly(reject RejectFunc) Middleware {
	reject = rejecter(reject)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := net.ParseIP(clientIP(r))
			if ip == nil || !ip.IsLoopback() {
				reject(w, r, http.StatusForbidden, domain.CodeInvalidInput, "only local clients are accepted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recover turns a handler panic into a 500 so one bad turn cannot take the
// server down.
func Recover(logger *slog.Logger, reject RejectFunc) Middleware {
	reject = rejecter(reject)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
					reject(w, r, http.StatusInternalServerError, domain.CodeUnknown, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLog logs one line per request at debug level, or warn for 4xx/5xx.
func RequestLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelDebug
			if rec.status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

// clientIP returns the TCP peer address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
