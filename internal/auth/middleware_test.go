package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareValidToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", 0)
	token, _ := mgr.GenerateAccessToken("player-42", "slot-42")

	var playerID, slotID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID = PlayerIDFromContext(r.Context())
		slotID = SlotIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware(mgr)(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if playerID != "player-42" || slotID != "slot-42" {
		t.Errorf("expected player-42/slot-42, got %s/%s", playerID, slotID)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	mgr := NewJWTManager("test-secret", 0)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
	handler := Middleware(mgr)(inner)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "Token abc123"},
		{"bearer only", "Bearer"},
		{"empty value", "Bearer "},
		{"invalid token", "Bearer invalid.jwt.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestMiddlewareCaseInsensitiveBearer(t *testing.T) {
	mgr := NewJWTManager("test-secret", 0)
	token, _ := mgr.GenerateAccessToken("player-1", "slot")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	Middleware(mgr)(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for lowercase bearer, got %d", rec.Code)
	}
}

func TestContextWithoutClaims(t *testing.T) {
	ctx := context.Background()
	if PlayerIDFromContext(ctx) != "" || SlotIDFromContext(ctx) != "" {
		t.Error("expected empty ids from context without auth")
	}
	ctx = SetPlayerForTest(ctx, "p", "s")
	if PlayerIDFromContext(ctx) != "p" || SlotIDFromContext(ctx) != "s" {
		t.Error("expected ids injected for test")
	}
}
