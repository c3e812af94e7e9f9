package api

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// tokenIssuerName is the iss claim stamped on every surface token.
const tokenIssuerName = "agentgated"

// SurfaceClaims are the JWT claims carried by display-surface tokens.
// Subject names the surface the token was minted for.
type SurfaceClaims struct {
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the bearer tokens display surfaces
// present to the bridge API. The HS256 signing key is derived from the
// daemon's master secret with HKDF-SHA256, so rotating the master
// secret invalidates every outstanding token at once.
type TokenIssuer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewTokenIssuer derives the signing key from the master secret.
func NewTokenIssuer(masterSecret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(masterSecret) == 0 {
		return nil, fmt.Errorf("auth: master secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	// HKDF-SHA256: derive 32 bytes of token-signing key material.
	reader := hkdf.New(sha256.New, masterSecret, []byte("agentgate-token-kdf"), []byte("surface-tokens"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("auth: key derivation failed: %w", err)
	}

	return &TokenIssuer{key: key, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides the time source for tests.
func (t *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	t.clock = clock
	return t
}

// Issue mints a token for a named surface.
func (t *TokenIssuer) Issue(surface string) (string, error) {
	if surface == "" {
		return "", fmt.Errorf("auth: surface name must not be empty")
	}

	now := t.clock()
	claims := SurfaceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuerName,
			Subject:   surface,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Verify parses and validates a token string.
func (t *TokenIssuer) Verify(tokenStr string) (*SurfaceClaims, error) {
	claims := &SurfaceClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.key, nil
	}, jwt.WithIssuer(tokenIssuerName), jwt.WithTimeFunc(func() time.Time { return t.clock() }))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
}

// isPublicPath checks if the path should be accessible without auth.
func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Auth creates bearer-token middleware.
// If issuer is nil, all non-public requests are rejected (fail closed).
func Auth(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if issuer == nil {
				WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := issuer.Verify(parts[1])
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				WriteUnauthorized(w, "Token subject is required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
