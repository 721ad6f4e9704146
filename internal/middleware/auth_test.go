package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func authStatus(t *testing.T, token string) int {
	t.Helper()
	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/loads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthAcceptsCompleteToken(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", "test-secret")
	token := signToken(t, "test-secret", jwt.MapClaims{
		"user_id": "u1", "email": "broker@loadtrace.io", "role": "broker",
	})
	if code := authStatus(t, token); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthRejectsTokenMissingClaims(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", "test-secret")

	// Validly signed tokens that lack or mistype identity claims must come
	// back as 401, not blow up the request
	cases := []jwt.MapClaims{
		{"user_id": "u1", "email": "broker@loadtrace.io"},
		{"user_id": "u1", "role": "broker"},
		{"email": "broker@loadtrace.io", "role": "broker"},
		{"user_id": 42, "email": "broker@loadtrace.io", "role": "broker"},
		{},
	}
	for i, claims := range cases {
		token := signToken(t, "test-secret", claims)
		if code := authStatus(t, token); code != http.StatusUnauthorized {
			t.Fatalf("case %d: expected 401, got %d", i, code)
		}
	}
}

func TestAuthRejectsWrongSignature(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", "test-secret")
	token := signToken(t, "other-secret", jwt.MapClaims{
		"user_id": "u1", "email": "broker@loadtrace.io", "role": "broker",
	})
	if code := authStatus(t, token); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
