// Package middleware provides HTTP middleware for the admin API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is the type for context keys.
type ContextKey string

// ClaimsKey is the context key for JWT claims.
const ClaimsKey ContextKey = "claims"

// Auth requires a valid bearer token on every request it wraps.
type Auth struct {
	jwtManager *JWTManager
	logger     *zap.Logger
}

// NewAuth creates a new auth middleware.
func NewAuth(jwtManager *JWTManager, logger *zap.Logger) *Auth {
	return &Auth{
		jwtManager: jwtManager,
		logger:     logger.With(zap.String("middleware", "auth")),
	}
}

// Handler wraps next. Browsers cannot set headers on websocket upgrades, so the token is
// also accepted in the access_token query parameter.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := r.URL.Query().Get("access_token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				unauthorized(w, "invalid authorization format, expected 'Bearer <token>'")
				return
			}
		}
		if tokenString == "" {
			a.logger.Debug("Missing authorization header", zap.String("path", r.URL.Path))
			unauthorized(w, "missing authorization header")
			return
		}

		claims, err := a.jwtManager.Verify(tokenString)
		if err != nil {
			a.logger.Debug("Token verification failed", zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		a.logger.Debug("Request authenticated",
			zap.String("subject", claims.Subject),
			zap.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="quantix-sched"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}
