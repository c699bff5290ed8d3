package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/config"
)

func testManager(secret string) *JWTManager {
	return NewJWTManager(config.AuthConfig{
		JWTSecret:   secret,
		Issuer:      "quantix-sched",
		TokenExpiry: 15 * time.Minute,
	})
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	manager := testManager("test-secret-key-at-least-32-bytes-long")

	token, expiresAt, err := manager.Generate("ops")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if expiresAt.Before(time.Now()) {
		t.Error("Token should not be expired")
	}

	claims, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Expected subject 'ops', got '%s'", claims.Subject)
	}
}

func TestJWTManager_Verify_WrongSecret(t *testing.T) {
	token, _, err := testManager("secret-key-one-at-least-32-bytes").Generate("ops")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := testManager("secret-key-two-at-least-32-bytes").Verify(token); err == nil {
		t.Fatal("Expected error when verifying with wrong secret")
	}
}

func TestJWTManager_Verify_RejectsForeignTokens(t *testing.T) {
	secret := []byte("test-secret-key-at-least-32-bytes-long")
	manager := testManager(string(secret))

	tests := []struct {
		name   string
		claims jwt.RegisteredClaims
	}{
		{
			name: "no expiry",
			claims: jwt.RegisteredClaims{
				Issuer: "quantix-sched", Audience: jwt.ClaimStrings{Audience},
			},
		},
		{
			name: "wrong audience",
			claims: jwt.RegisteredClaims{
				Issuer: "quantix-sched", Audience: jwt.ClaimStrings{"other"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		},
		{
			name: "wrong issuer",
			claims: jwt.RegisteredClaims{
				Issuer: "someone", Audience: jwt.ClaimStrings{Audience},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		},
		{
			name: "expired",
			claims: jwt.RegisteredClaims{
				Issuer: "quantix-sched", Audience: jwt.ClaimStrings{Audience},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString(secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := manager.Verify(token); err == nil {
				t.Fatal("Expected verification to fail")
			}
		})
	}
}

func TestJWTManager_GenerateWithoutSecret(t *testing.T) {
	if _, _, err := testManager("").Generate("ops"); err == nil {
		t.Fatal("Expected error without a secret")
	}
}

func TestAuth_Handler(t *testing.T) {
	manager := testManager("test-secret-key-at-least-32-bytes-long")
	token, _, err := manager.Generate("ops")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	handler := NewAuth(manager, zap.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok || claims.Subject != "ops" {
			t.Errorf("claims missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"bearer header", "/api/v1/status", "Bearer " + token, http.StatusNoContent},
		{"query parameter", "/api/v1/cycles/watch?access_token=" + token, "", http.StatusNoContent},
		{"missing", "/api/v1/status", "", http.StatusUnauthorized},
		{"not bearer", "/api/v1/status", "Basic abc", http.StatusUnauthorized},
		{"garbage", "/api/v1/status", "Bearer abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
