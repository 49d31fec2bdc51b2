package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	mgr := NewJWTManager("test-secret-key-123", 0)
	token, err := mgr.GenerateAccessToken("player-42", "slot-a")
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.PlayerID != "player-42" || claims.SlotID != "slot-a" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "player-42" || claims.Issuer != issuer {
		t.Errorf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
}

func TestGenerateAndValidateRefreshToken(t *testing.T) {
	mgr := NewJWTManager("test-secret-key-123", 0)
	token, err := mgr.GenerateRefreshToken("player-99", "slot-b")
	if err != nil {
		t.Fatalf("generate refresh token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.PlayerID != "player-99" {
		t.Errorf("expected player_id=player-99, got %s", claims.PlayerID)
	}
}

func TestGenerateTokenPair(t *testing.T) {
	mgr := NewJWTManager("test-secret-key-123", 0)
	pair, err := mgr.GenerateTokenPair("player-7", "slot-7")
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("expected non-empty tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens should be different")
	}
	if pair.ExpiresIn != 900 {
		t.Errorf("expected expires_in=900, got %d", pair.ExpiresIn)
	}
	if pair.SlotID != "slot-7" {
		t.Errorf("expected slot-7, got %s", pair.SlotID)
	}
}

func TestCustomAccessExpiry(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)
	pair, _ := mgr.GenerateTokenPair("p", "s")
	if pair.ExpiresIn != 3600 {
		t.Errorf("expected expires_in=3600, got %d", pair.ExpiresIn)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	mgr1 := NewJWTManager("secret-one", 0)
	mgr2 := NewJWTManager("secret-two", 0)

	token, err := mgr1.GenerateAccessToken("player-1", "slot")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := mgr2.ValidateToken(token); err == nil {
		t.Error("expected validation to fail with wrong secret")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	mgr := NewJWTManager("test-secret", 0)
	if _, err := mgr.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected error for garbage token")
	}
	if _, err := mgr.ValidateToken(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := &JWTManager{
		secret:        []byte("test-secret"),
		accessExpiry:  -1 * time.Second,
		refreshExpiry: 7 * 24 * time.Hour,
	}
	token, err := mgr.GenerateAccessToken("player-1", "slot")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}
