package httpapi

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"retailpos/backend/internal/domain"
)

func TestIssueAndParseTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	want := domain.Principal{UserID: "usr-cashier", Role: domain.RoleCashier, StoreID: "store-001"}

	token, err := auth.IssueToken(want)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	got, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestParseTokenNormalizesRole(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	token, err := auth.IssueToken(domain.Principal{UserID: "usr-admin", Role: "admin", StoreID: "store-001"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	got, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if got.Role != domain.RoleAdmin {
		t.Fatalf("expected role %q, got %q", domain.RoleAdmin, got.Role)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Minute)
	issuedAt := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issuedAt }
	token, err := auth.IssueToken(domain.Principal{UserID: "usr-cashier", Role: domain.RoleCashier, StoreID: "store-001"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	auth.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsOtherSecret(t *testing.T) {
	issuer := NewAuthManager(strings.Repeat("a", 32), time.Hour)
	verifier := NewAuthManager(strings.Repeat("b", 32), time.Hour)
	token, err := issuer.IssueToken(domain.Principal{UserID: "usr-cashier", Role: domain.RoleCashier, StoreID: "store-001"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsUnsignedToken(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "usr-cashier",
			Issuer:    tokenIssuer,
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:    domain.RoleAdmin,
		StoreID: "store-001",
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestIssueTokenRequiresUser(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	if _, err := auth.IssueToken(domain.Principal{Role: domain.RoleCashier}); err == nil {
		t.Fatalf("expected error for principal without user id")
	}
}
