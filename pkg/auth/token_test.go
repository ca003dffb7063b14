package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "supermarketpro-test",
		ExpirationMinutes: 15,
	}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().Truncate(time.Second)
	vendorID := uuid.New()
	payload := AccessTokenPayload{
		UserID:   uuid.New(),
		Role:     enums.ActorRoleVendor,
		VendorID: &vendorID,
	}

	signed, err := MintAccessToken(cfg, now, payload)
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	claims, err := ParseAccessToken(cfg, signed)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.UserID != payload.UserID {
		t.Fatalf("user id = %s, want %s", claims.UserID, payload.UserID)
	}
	if claims.Role != enums.ActorRoleVendor {
		t.Fatalf("role = %s, want %s", claims.Role, enums.ActorRoleVendor)
	}
	if claims.VendorID == nil || *claims.VendorID != vendorID {
		t.Fatalf("vendor id = %v, want %s", claims.VendorID, vendorID)
	}
	if claims.ID == "" {
		t.Fatal("expected generated jti")
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("issuer = %q, want %q", claims.Issuer, cfg.Issuer)
	}
}

func TestMintValidation(t *testing.T) {
	now := time.Now()
	base := AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleCustomer}

	tests := []struct {
		name    string
		cfg     config.JWTConfig
		payload AccessTokenPayload
	}{
		{
			name:    "missing secret",
			cfg:     config.JWTConfig{Issuer: "x", ExpirationMinutes: 5},
			payload: base,
		},
		{
			name:    "missing issuer",
			cfg:     config.JWTConfig{Secret: "x", ExpirationMinutes: 5},
			payload: base,
		},
		{
			name:    "invalid role",
			cfg:     testJWTConfig(),
			payload: AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRole("ghost")},
		},
		{
			name:    "missing user id",
			cfg:     testJWTConfig(),
			payload: AccessTokenPayload{Role: enums.ActorRoleCustomer},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := MintAccessToken(tc.cfg, now, tc.payload); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseRejectsWrongSecretAndIssuer(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	wrongSecret := cfg
	wrongSecret.Secret = "other-secret"
	if _, err := ParseAccessToken(wrongSecret, signed); err == nil {
		t.Fatal("expected error for wrong secret")
	}

	wrongIssuer := cfg
	wrongIssuer.Issuer = "someone-else"
	if _, err := ParseAccessToken(wrongIssuer, signed); err == nil {
		t.Fatal("expected error for wrong issuer")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleDeliveryAgent,
	})
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}
	if _, err := ParseAccessToken(cfg, signed); err == nil {
		t.Fatal("expected error for expired token")
	}
}
