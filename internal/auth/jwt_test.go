package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	return token
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.Generate("alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != "alice" {
		t.Errorf("expected user alice, got %q", claims.UserID)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)
	expired := NewJWTManager("test-secret", -time.Minute)

	foreign, _ := other.Generate("alice")
	stale, _ := expired.Generate("alice")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if _, err := m.Generate(""); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestJWTManager_SubjectOnlyToken(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token := sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != "bob" {
		t.Errorf("expected user bob, got %q", claims.UserID)
	}
}

func TestJWTManager_RejectsForeignTokens(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"other issuer", sign(t, jwt.SigningMethodHS256, []byte("test-secret"),
			jwt.RegisteredClaims{Issuer: "someone-else", Subject: "bob", ExpiresAt: exp})},
		{"unsigned", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType,
			jwt.RegisteredClaims{Issuer: Issuer, Subject: "bob", ExpiresAt: exp})},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte("test-secret"),
			jwt.RegisteredClaims{Issuer: Issuer, ExpiresAt: exp})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
