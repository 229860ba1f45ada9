package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f fakeRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[tokenID], nil
}

func TestNewVerifierRejectsWeakSecret(t *testing.T) {
	if _, err := NewVerifier("short", nil); !errors.Is(err, ErrWeakSecretKey) {
		t.Fatalf("expected ErrWeakSecretKey, got %v", err)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier(testSecret, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := v.Sign(Identity{UserID: "u-1", Role: "ADMIN"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u-1" || !id.IsAdmin() {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v, _ := NewVerifier(testSecret, nil)
	issued := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return issued }
	token, err := v.Sign(Identity{UserID: "u-1"}, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	v.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	v, _ := NewVerifier(testSecret, nil)
	claims := Claims{
		UserID:           "u-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsMissingUserID(t *testing.T) {
	v, _ := NewVerifier(testSecret, nil)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyChecksRevocation(t *testing.T) {
	signer, _ := NewVerifier(testSecret, nil)
	token, _ := signer.Sign(Identity{UserID: "u-1"}, time.Hour)

	parsed := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, parsed); err != nil {
		t.Fatalf("parse unverified: %v", err)
	}

	v, _ := NewVerifier(testSecret, fakeRevocations{revoked: map[string]bool{parsed.ID: true}})
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}

	failing, _ := NewVerifier(testSecret, fakeRevocations{err: errors.New("redis down")})
	if _, err := failing.Verify(context.Background(), token); err == nil {
		t.Fatalf("expected revocation lookup error")
	}
}
