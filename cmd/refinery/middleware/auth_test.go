package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/common/auth"
	"github.com/draftwell/refinery/common/clients"
)

func testManager(t *testing.T) *auth.JWTManager {
	t.Helper()
	manager, err := auth.NewJWTManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return manager
}

func runJWTAuth(t *testing.T, manager *auth.JWTManager, decorate func(*http.Request)) (echo.Context, *httptest.ResponseRecorder, bool) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	decorate(req)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := JWTAuth(manager)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return c, rec, called
}

func TestJWTAuthStoresIdentity(t *testing.T) {
	manager := testManager(t)
	token, err := manager.GenerateToken("user-42", "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	c, rec, called := runJWTAuth(t, manager, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})

	if !called {
		t.Fatalf("next handler not called, status %d", rec.Code)
	}
	if got, _ := c.Get(UserIDKey).(string); got != "user-42" {
		t.Errorf("user id in echo context = %q, want user-42", got)
	}
	if got := CurrentUsername(c); got != "ada" {
		t.Errorf("username = %q, want ada", got)
	}

	// downstream runtime calls read the identity off the request context
	if got, ok := clients.GetUserID(c.Request().Context()); !ok || got != "user-42" {
		t.Errorf("user id in request context = %q (ok=%v), want user-42", got, ok)
	}
}

func TestJWTAuthAcceptsQueryToken(t *testing.T) {
	manager := testManager(t)
	token, err := manager.GenerateToken("user-42", "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	c, rec, called := runJWTAuth(t, manager, func(r *http.Request) {
		q := r.URL.Query()
		q.Set("token", token)
		r.URL.RawQuery = q.Encode()
	})

	if !called {
		t.Fatalf("next handler not called, status %d", rec.Code)
	}
	if got, _ := c.Get(UserIDKey).(string); got != "user-42" {
		t.Errorf("user id = %q, want user-42", got)
	}
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	manager := testManager(t)
	other, _ := auth.NewJWTManager("other-secret", time.Hour)
	foreign, err := other.GenerateToken("user-42", "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name     string
		decorate func(*http.Request)
	}{
		{"missing token", func(r *http.Request) {}},
		{"garbage token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not-a-token")
		}},
		{"wrong key", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+foreign)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec, called := runJWTAuth(t, manager, tt.decorate)
			if called {
				t.Errorf("next handler was called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if _, ok := clients.GetUserID(c.Request().Context()); ok {
				t.Errorf("request context carries a user id after rejection")
			}
		})
	}
}
