package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/graaaaa/attention-collector/internal/api/sseauth"
)

const authRealm = `Basic realm="Attention Collector"`

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// corsMiddleware answers cross-origin requests from the browser extension.
// Only origins in the allowlist are permitted.
func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && slices.Contains(cfg.AllowedOrigins, origin)

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				if allowed {
					w.Header().Set("Access-Control-Max-Age", "86400")
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// csrfMiddleware validates Origin/Referer headers on state-changing requests
// (POST, PUT, DELETE).
func csrfMiddleware(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			source, kind := r.Header.Get("Origin"), "origin"
			if source == "" {
				source, kind = r.Header.Get("Referer"), "referer"
			}
			if source == "" {
				http.Error(w, "Forbidden: missing origin/referer", http.StatusForbidden)
				return
			}
			u, err := url.Parse(source)
			if err != nil || !isAllowedHost(u.Host, allowedHosts) {
				http.Error(w, "Forbidden: invalid "+kind, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedHost checks if the host is in the allowed list.
// Loopback hosts are always allowed.
func isAllowedHost(host string, allowedHosts []string) bool {
	h := stripPort(host)
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return true
	}
	for _, allowed := range allowedHosts {
		if h == stripPort(allowed) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end != -1 {
			return host[1:end]
		}
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}

// securityHeadersMiddleware adds security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	csp := strings.Join([]string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"connect-src 'self'",
		"base-uri 'none'",
		"frame-ancestors 'none'",
		"form-action 'self'",
	}, "; ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", csp)
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// constantTimeEqualString compares two strings in constant time.
// Uses SHA-256 hashing to ensure comparison time is independent of input lengths.
func constantTimeEqualString(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

func credentialsMatch(r *http.Request, username, password string) (provided, ok bool) {
	u, p, provided := r.BasicAuth()
	if !provided {
		return false, false
	}
	userOK := constantTimeEqualString(u, username)
	passOK := constantTimeEqualString(p, password)
	return true, userOK && passOK
}

func lockedOut(w http.ResponseWriter, afl *AuthFailureLimiter, ip string) {
	w.Header().Set("Retry-After", strconv.Itoa(afl.LockoutSecondsRemaining(ip)))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

// basicAuthMiddleware checks HTTP Basic Auth credentials. With a non-nil
// limiter, repeated failures from one IP lock it out.
func basicAuthMiddleware(username, password string, afl *AuthFailureLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if afl != nil && afl.IsLocked(ip) {
				lockedOut(w, afl, ip)
				return
			}

			provided, ok := credentialsMatch(r, username, password)
			if ok {
				if afl != nil {
					afl.RecordSuccess(ip)
				}
				next.ServeHTTP(w, r)
				return
			}

			if provided && afl != nil && afl.RecordFailure(ip) < 0 {
				lockedOut(w, afl, ip)
				return
			}
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

// sseTokenMiddleware accepts either Basic Auth or a short-lived stream token
// passed as ?token=, since EventSource cannot set headers.
func sseTokenMiddleware(username, password string, tokens *sseauth.Signer, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := credentialsMatch(r, username, password); ok {
				next.ServeHTTP(w, r)
				return
			}

			token := r.URL.Query().Get("token")
			if token != "" && tokens != nil {
				if _, err := tokens.Verify(token, sseauth.ScopeStats, now()); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
