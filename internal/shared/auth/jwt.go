package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrEmptyToken    = errors.New("authorization token is required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token is expired")
	ErrRevokedToken  = errors.New("token is revoked")
	ErrWeakSecretKey = errors.New("jwt secret must be at least 32 bytes")
)

const defaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Verifier validates HS256 tokens and resolves them to an Identity.
type Verifier struct {
	secret  []byte
	revoked RevocationChecker
	now     func() time.Time
}

// NewVerifier constructs a Verifier. revoked may be nil.
func NewVerifier(secret string, revoked RevocationChecker) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecretKey
	}
	return &Verifier{secret: []byte(secret), revoked: revoked, now: time.Now}, nil
}

// Verify parses the token, checks expiry and revocation, and returns the caller identity.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return Identity{}, ErrEmptyToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.UserID) == "" {
		return Identity{}, fmt.Errorf("%w: user_id missing", ErrInvalidToken)
	}

	if v.revoked != nil && claims.ID != "" {
		revoked, err := v.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Identity{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Identity{}, ErrRevokedToken
		}
	}

	return Identity{UserID: claims.UserID, Role: normalizeRole(claims.Role)}, nil
}

// Sign issues a token for the identity. Used by dev tooling and tests; production
// tokens come from the identity service.
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := v.now()
	claims := Claims{
		UserID: identity.UserID,
		Role:   normalizeRole(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
