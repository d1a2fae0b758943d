package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return token
}

func TestUserIDFromTokenValid(t *testing.T) {
	auth := NewTestAuth(testSecret)
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	sub, err := auth.UserIDFromToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("expected user-1, got %q", sub)
	}
}

func TestUserIDFromTokenRejectsExpired(t *testing.T) {
	auth := NewTestAuth(testSecret)
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := auth.UserIDFromToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromTokenRequiresSub(t *testing.T) {
	auth := NewTestAuth(testSecret)
	token := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := auth.UserIDFromToken(token); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}

func TestUserIDFromTokenRejectsWrongSecret(t *testing.T) {
	auth := NewTestAuth([]byte("other-secret"))
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := auth.UserIDFromToken(token); err == nil {
		t.Fatal("expected wrong signature to be rejected")
	}
}

func TestUserIDFromTokenChecksAudience(t *testing.T) {
	auth := NewTestAuth(testSecret)
	auth.audience = "boardsync"

	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := auth.UserIDFromToken(token); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}

	token = signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"aud": "boardsync",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := auth.UserIDFromToken(token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUserIDFromAuthHeader(t *testing.T) {
	auth := NewTestAuth(testSecret)
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := auth.UserIDFromAuthHeader(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := auth.UserIDFromAuthHeader(token); err != errBadAuthorization {
		t.Fatalf("expected bad header error for bare token, got %v", err)
	}
	if _, err := auth.UserIDFromAuthHeader("Basic " + token); err != errBadAuthorization {
		t.Fatalf("expected bad header error for wrong scheme, got %v", err)
	}

	sub, err := auth.UserIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("expected user-1, got %q", sub)
	}
}
