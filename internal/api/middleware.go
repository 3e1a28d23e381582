package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/graaaaa/valheim-watcher/internal/appinfo"
)

// authRealm is the Basic Auth realm sent with 401 responses.
var authRealm = `Basic realm="` + appinfo.AppName + `"`

// csrfMiddleware validates Origin/Referer on state-changing requests.
// Requests from non-browser clients carry neither header and must
// authenticate instead, so a missing header is only rejected when
// requireOrigin is set.
func csrfMiddleware(allowedHosts []string, requireOrigin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			if origin := r.Header.Get("Origin"); origin != "" {
				originURL, err := url.Parse(origin)
				if err != nil || !isAllowedHost(originURL.Host, allowedHosts) {
					writeError(w, http.StatusForbidden, "invalid origin", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if referer := r.Header.Get("Referer"); referer != "" {
				refererURL, err := url.Parse(referer)
				if err != nil || !isAllowedHost(refererURL.Host, allowedHosts) {
					writeError(w, http.StatusForbidden, "invalid referer", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if requireOrigin {
				writeError(w, http.StatusForbidden, "missing origin/referer", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedHost reports whether host (port ignored) is loopback or listed.
func isAllowedHost(host string, allowedHosts []string) bool {
	h := stripPort(host)
	if h == "localhost" || h == "127.0.0.1" || h == "::1" || h == "[::1]" {
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
			return host[:end+1]
		}
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}

// securityHeadersMiddleware adds headers for a JSON-only API.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// constantTimeEqualString compares a and b in time independent of their
// lengths.
func constantTimeEqualString(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// basicAuthMiddleware checks HTTP Basic Auth credentials. When afl is
// non-nil, failures are counted per client IP and locked-out clients get 429.
func basicAuthMiddleware(username, password string, afl *AuthFailureLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)

			if afl != nil && afl.IsLocked(ip) {
				w.Header().Set("Retry-After", strconv.Itoa(afl.LockoutSecondsRemaining(ip)))
				writeError(w, http.StatusTooManyRequests, "too many failed attempts", nil)
				return
			}

			u, p, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", authRealm)
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}

			// Evaluate both to keep timing independent of which one is wrong.
			usernameMatch := constantTimeEqualString(u, username)
			passwordMatch := constantTimeEqualString(p, password)
			if !usernameMatch || !passwordMatch {
				if afl != nil && afl.RecordFailure(ip) < 0 {
					w.Header().Set("Retry-After", strconv.Itoa(afl.LockoutSecondsRemaining(ip)))
					writeError(w, http.StatusTooManyRequests, "too many failed attempts", nil)
					return
				}
				w.Header().Set("WWW-Authenticate", authRealm)
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}

			if afl != nil {
				afl.RecordSuccess(ip)
			}
			next.ServeHTTP(w, r)
		})
	}
}
