// Package server implements the HTTP server and routing logic.
package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindexlab/mindex/internal/apierrors"
	"github.com/mindexlab/mindex/internal/server/handlers"
	"github.com/mindexlab/mindex/internal/server/ratelimit"
)

// Config carries router-level settings.
type Config struct {
	Password       string
	JWTSecret      []byte
	VAPIDPublicKey string
	Version        string
}

// NewRouter creates and configures the HTTP router. API endpoints live under
// /api/*; document IDs are path wildcards so nested paths work.
func NewRouter(svc *handlers.Services, cfg Config) http.Handler {
	mux := http.NewServeMux()

	auth := handlers.NewAuthHandler(cfg.Password, cfg.JWTSecret)
	dh := handlers.NewDocumentHandler(svc)
	sh := handlers.NewSearchHandler(svc)
	hh := handlers.NewHistoryHandler(svc)
	ph := handlers.NewPushHandler(svc, cfg.VAPIDPublicKey)
	healthh := handlers.NewHealthHandler(cfg.Version)

	mux.Handle("GET /api/health", Wrap(healthh.Health))

	// Login is rate limited per client IP to slow password guessing.
	loginLimiter := ratelimit.NewLimiter(10, time.Minute, 10)
	mux.Handle("POST /api/auth/login", loginHandler(auth, loginLimiter))

	mux.Handle("GET /api/documents", Wrap(dh.List))
	mux.Handle("GET /api/documents/{id...}", Wrap(dh.Get))
	mux.Handle("POST /api/documents/{id...}", Wrap(dh.Create))
	mux.Handle("PUT /api/documents/{id...}", Wrap(dh.Update))
	mux.Handle("DELETE /api/documents/{id...}", Wrap(dh.Delete))

	mux.Handle("GET /api/search", Wrap(sh.Search))

	mux.Handle("GET /api/history/{id...}", Wrap(hh.History))
	mux.Handle("GET /api/versions/{hash}/{id...}", Wrap(hh.Version))

	mux.Handle("GET /api/push/registry", Wrap(ph.Registry))
	mux.Handle("GET /api/push/schedule", Wrap(ph.Schedule))
	mux.Handle("GET /api/push/public-key", Wrap(ph.PublicKey))
	mux.Handle("POST /api/push/test", Wrap(ph.Test))

	return AuthMiddleware(auth)(mux)
}

// loginHandler handles login directly so it can set the session cookie on
// success.
func loginHandler(auth *handlers.AuthHandler, limiter *ratelimit.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if result := limiter.Allow(clientIP(r)); !result.Allowed {
			writeError(w, apierrors.RateLimited().WithDetail("retry_after_seconds", int(result.RetryAfter.Seconds())+1))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err2 := r.Body.Close(); err == nil {
			err = err2
		}
		if err != nil {
			writeError(w, apierrors.BadRequest("failed to read request body"))
			return
		}

		var req handlers.LoginRequest
		if len(body) > 0 {
			d := json.NewDecoder(bytes.NewReader(body))
			d.DisallowUnknownFields()
			if err := d.Decode(&req); err != nil {
				writeError(w, apierrors.BadRequest("invalid request body"))
				return
			}
		}

		resp, err := auth.Login(ctx, req)
		if err != nil {
			writeError(w, asAPIError(err))
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     handlers.SessionCookie,
			Value:    resp.Token,
			Path:     "/",
			Expires:  resp.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}
