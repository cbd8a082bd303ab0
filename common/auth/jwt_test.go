package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	manager, err := NewJWTManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	token, err := manager.GenerateToken("user-42", "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", claims.UserID)
	}
	if claims.Username != "ada" {
		t.Errorf("Username = %q, want ada", claims.Username)
	}
	if claims.Subject != "user-42" {
		t.Errorf("Subject = %q, want user-42", claims.Subject)
	}
	if claims.Issuer != "refinery" {
		t.Errorf("Issuer = %q, want refinery", claims.Issuer)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	manager, err := NewJWTManager("test-secret", -time.Minute)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	// Negative TTLs fall back to the default, so force expiry another way.
	manager.tokenTTL = -time.Minute

	token, err := manager.GenerateToken("user-42", "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := manager.ValidateToken(token); err == nil {
		t.Errorf("expected expired-token error")
	}
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	issuer, _ := NewJWTManager("key-one", time.Hour)
	verifier, _ := NewJWTManager("key-two", time.Hour)

	token, err := issuer.GenerateToken("user-42", "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := verifier.ValidateToken(token); err == nil {
		t.Errorf("expected signature error")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	manager, _ := NewJWTManager("test-secret", time.Hour)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := manager.ValidateToken(token); err == nil {
			t.Errorf("token %q: expected error", token)
		}
	}
}

func TestNewJWTManagerRequiresKey(t *testing.T) {
	if _, err := NewJWTManager("", time.Hour); err == nil {
		t.Errorf("expected error for empty signing key")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query parameter", "/ws?token=from-query", "", "from-query"},
		{"bearer header", "/api/thing", "Bearer from-header", "from-header"},
		{"query wins over header", "/ws?token=from-query", "Bearer from-header", "from-query"},
		{"malformed header scheme", "/api/thing", "Basic dXNlcjpwdw==", ""},
		{"nothing", "/api/thing", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			if got := ExtractToken(r); got != tt.want {
				t.Errorf("ExtractToken = %q, want %q", got, tt.want)
			}
		})
	}
}
