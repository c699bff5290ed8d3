package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/limiquantix/quantix-sched/internal/config"
)

// Audience of admin API tokens.
const Audience = "quantix-sched-admin"

// Claims represents the JWT claims of an admin API token.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager handles admin token generation and verification.
type JWTManager struct {
	secret      []byte
	issuer      string
	tokenExpiry time.Duration
}

// NewJWTManager creates a new JWT manager with the given configuration.
func NewJWTManager(cfg config.AuthConfig) *JWTManager {
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{
		secret:      []byte(cfg.JWTSecret),
		issuer:      cfg.Issuer,
		tokenExpiry: expiry,
	}
}

// Generate creates a signed token for subject.
func (m *JWTManager) Generate(subject string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}

	now := time.Now()
	expiresAt := now.Add(m.tokenExpiry)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s-%d", subject, now.UnixNano()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify validates a token and returns the claims if valid.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
