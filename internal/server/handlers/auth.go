package handlers

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindexlab/mindex/internal/apierrors"
)

// SessionCookie is the name of the JWT session cookie.
const SessionCookie = "mindex_session"

// AuthHandler implements shared-password login. When no password is
// configured the server runs open and login always succeeds.
type AuthHandler struct {
	password  string
	jwtSecret []byte
	ttl       time.Duration
}

// NewAuthHandler creates an auth handler. password may be empty to disable
// authentication.
func NewAuthHandler(password string, jwtSecret []byte) *AuthHandler {
	return &AuthHandler{password: password, jwtSecret: jwtSecret, ttl: 7 * 24 * time.Hour}
}

// Enabled reports whether a password is configured.
func (h *AuthHandler) Enabled() bool {
	return h.password != ""
}

// LoginRequest carries the shared password.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse carries the session token. The router also sets it as an
// HTTP-only cookie.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login checks the shared password and issues a session token.
func (h *AuthHandler) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if h.password != "" && subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		return nil, apierrors.Unauthorized()
	}

	now := time.Now()
	expiresAt := now.Add(h.ttl)
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		return nil, apierrors.Internal("failed to sign token", err)
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt.UTC()}, nil
}

// ValidateToken parses and verifies a session token.
func (h *AuthHandler) ValidateToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return h.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return apierrors.Unauthorized()
	}
	return nil
}
