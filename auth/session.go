package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/suas/interop/httpx"
	"github.com/suas/interop/rbac"
)

// CookieName is the cookie carrying browser sessions. API clients send the
// same token as a bearer credential.
const CookieName = "interop_session"

var (
	ErrMalformedToken = errors.New("malformed session token")
	ErrBadSignature   = errors.New("session token signature mismatch")
	ErrExpired        = errors.New("session expired")
)

// Claims identify the caller behind a session token.
type Claims struct {
	AccountID int64       `json:"account_id"`
	Username  string      `json:"username"`
	Roles     []rbac.Role `json:"roles"`
	IssuedAt  int64       `json:"iat"`
	ExpiresAt int64       `json:"exp"`
}

type contextKey struct{}

// SessionManager signs and verifies HMAC session tokens of the form
// base64(claims) "." base64(mac).
type SessionManager struct {
	secret   []byte
	lifetime time.Duration
	secure   bool
	now      func() time.Time
}

// NewSessionManager constructs a session manager keyed by secret.
func NewSessionManager(secret string, secure bool) (*SessionManager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("session secret must be configured")
	}

	return &SessionManager{
		secret:   []byte(trimmed),
		lifetime: 24 * time.Hour,
		secure:   secure,
		now:      time.Now,
	}, nil
}

// SetLifetime overrides how long newly signed tokens remain valid.
func (m *SessionManager) SetLifetime(d time.Duration) {
	if d > 0 {
		m.lifetime = d
	}
}

// Token signs claims, stamping issue and expiry times from the manager's
// lifetime.
func (m *SessionManager) Token(claims Claims) (string, error) {
	now := m.now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(m.lifetime).Unix()

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + base64.RawURLEncoding.EncodeToString(m.mac(payload)), nil
}

// Parse verifies token and returns its claims.
func (m *SessionManager) Parse(token string) (*Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" || strings.Contains(sig, ".") {
		return nil, ErrMalformedToken
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrMalformedToken
	}
	if !hmac.Equal(got, m.mac(payload)) {
		return nil, ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.ExpiresAt <= m.now().Unix() {
		return nil, ErrExpired
	}
	return &claims, nil
}

func (m *SessionManager) mac(payload string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Middleware attaches the caller's claims to the request context. Requests
// without a token pass through anonymously; a token that fails Parse is
// answered with 401.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.Parse(token)
		switch {
		case errors.Is(err, ErrExpired):
			httpx.Error(w, http.StatusUnauthorized, "session expired")
			return
		case err != nil:
			httpx.Error(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// tokenFrom prefers an explicit bearer credential over the cookie.
func tokenFrom(r *http.Request) string {
	if scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(value)
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Roles returns the caller's roles, or nil for anonymous requests.
func Roles(r *http.Request) []rbac.Role {
	claims := FromContext(r.Context())
	if claims == nil {
		return nil
	}
	return slices.Clone(claims.Roles)
}

// FromContext returns the session claims attached by Middleware, if any.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}
