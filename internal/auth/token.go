// ABOUTME: JWT token verification producing per-request identities
// ABOUTME: Uses HS256 signing with configurable secret; claims sub/role/perms/exp

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier resolves a bearer credential to an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token signature and expiry and builds an Identity
// from the sub, role, and perms claims. The perms claim, when present,
// becomes the identity's explicit permission override.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	id := &Identity{ID: sub}

	if role, ok := claims["role"].(string); ok {
		id.Role = Role(role)
	}

	if raw, ok := claims["perms"].([]interface{}); ok {
		perms := make([]Permission, 0, len(raw))
		for _, entry := range raw {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%w: perms entries must be strings", ErrInvalidToken)
			}
			perms = append(perms, Permission(s))
		}
		id.Permissions = perms
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		id.ExpiresAt = &t
	}

	return id, nil
}

// Generate creates a signed token for the given subject with expiration.
// An empty perms slice omits the claim so the role mapping stays
// authoritative for the resulting identity.
func (v *JWTVerifier) Generate(subject string, role Role, perms []Permission, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	if len(perms) > 0 {
		strs := make([]string, len(perms))
		for i, p := range perms {
			strs[i] = string(p)
		}
		claims["perms"] = strs
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// MultiVerifier tries each verifier in order and returns the first Identity.
// When every verifier rejects the credential, the last error is returned.
type MultiVerifier []TokenVerifier

// Verify implements TokenVerifier.
func (m MultiVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if len(m) == 0 {
		return nil, ErrInvalidToken
	}

	var lastErr error
	for _, v := range m {
		id, err := v.Verify(ctx, credential)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
