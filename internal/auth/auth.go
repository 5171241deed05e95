// Package auth is bearer-JWT validation for the operator HTTP API (spec
// §6.1). rigsd issues a token to whoever holds the shared operator secret
// (there is no multi-user account system here — the operator surface is a
// single trust boundary, not a tenant-facing product); every other
// request must carry that token.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload rigsd issues and validates.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Manager issues and validates operator bearer tokens signed with a shared
// HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager constructs a Manager. An empty secret generates a random one,
// valid only for the lifetime of this process — fine for a single rigsd
// instance, but multi-replica deployments must set a shared secret in
// configuration so all replicas validate the same tokens.
func NewManager(secret string, ttl time.Duration) *Manager {
	if secret == "" {
		secret = randomSecret(32)
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// IssueToken signs a token for subject (an operator identity string, e.g. an
// email or service account name), valid for the Manager's configured TTL.
func (m *Manager) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "rigsd",
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a bearer token, rejecting anything not
// signed with HS256 and our secret, or expired.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	return claims, nil
}

type contextKey string

const subjectContextKey contextKey = "auth.subject"

// Middleware validates the Authorization: Bearer <token> header on every
// request, rejecting with 401 on failure and otherwise calling next.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := m.ValidateToken(strings.TrimPrefix(header, prefix))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(withSubject(r.Context(), claims.Subject))
		next.ServeHTTP(w, r)
	})
}

func randomSecret(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
