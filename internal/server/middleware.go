package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/mindexlab/mindex/internal/apierrors"
	"github.com/mindexlab/mindex/internal/server/handlers"
)

// openPaths are reachable without a session: login itself, liveness and the
// key browsers need before they can subscribe.
var openPaths = map[string]bool{
	"/api/auth/login":      true,
	"/api/health":          true,
	"/api/push/public-key": true,
}

// AuthMiddleware rejects API requests without a valid session cookie or
// bearer token. It is a pass-through when no password is configured.
func AuthMiddleware(auth *handlers.AuthHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() || openPaths[r.URL.Path] || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			token := sessionToken(r)
			if token == "" {
				writeError(w, apierrors.Unauthorized())
				return
			}
			if err := auth.ValidateToken(token); err != nil {
				writeError(w, apierrors.Unauthorized())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionToken extracts the session token from the cookie or, as a fallback
// for non-browser clients, the Authorization header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(handlers.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return token
	}
	return ""
}

// clientIP returns the caller's IP, honoring the first X-Forwarded-For hop
// when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
