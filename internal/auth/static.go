// ABOUTME: Static token verification against bcrypt hashes declared in config
// ABOUTME: Caches verified identities with a TTL to amortize the bcrypt cost

package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// staticCacheTTL is how long a verified static-token identity stays cached.
const staticCacheTTL = 5 * time.Minute

// StaticToken declares one config-provisioned credential.
type StaticToken struct {
	// Hash is the bcrypt hash of the raw token.
	Hash string

	// Subject becomes Identity.ID on successful verification.
	Subject string

	// Role is the role granted to the identity.
	Role Role

	// Permissions, when set, become an explicit override on the identity.
	Permissions []Permission
}

// StaticVerifier implements TokenVerifier over a fixed set of bcrypt-hashed
// tokens, typically loaded from the gateway config.
type StaticVerifier struct {
	tokens []StaticToken
	cache  *identityCache
}

// NewStaticVerifier creates a verifier for the given tokens.
func NewStaticVerifier(tokens []StaticToken) *StaticVerifier {
	return &StaticVerifier{
		tokens: tokens,
		cache:  newIdentityCache(staticCacheTTL, maxCachedIdentities),
	}
}

// Verify compares the credential against every declared hash. Matches are
// cached so repeated presentations of the same token skip the comparison
// until the cache entry expires.
func (v *StaticVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	if id, ok := v.cache.get(credential); ok {
		return id, nil
	}

	for _, tok := range v.tokens {
		if err := bcrypt.CompareHashAndPassword([]byte(tok.Hash), []byte(credential)); err != nil {
			continue
		}
		id := &Identity{
			ID:          tok.Subject,
			Role:        tok.Role,
			Permissions: append([]Permission(nil), tok.Permissions...),
		}
		v.cache.put(credential, id)
		return id, nil
	}

	return nil, ErrInvalidToken
}

// Close stops the verifier's cache sweeper.
func (v *StaticVerifier) Close() {
	v.cache.close()
}

// HashToken produces a bcrypt hash suitable for the auth.static_tokens
// config section.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
