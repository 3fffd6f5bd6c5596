// ABOUTME: Identity carries the authenticated caller through a single request
// ABOUTME: Permission checks honor explicit overrides ahead of role derivation

package auth

import (
	"errors"
	"time"
)

// Authorization errors
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInsufficientPermission = errors.New("insufficient permission")
)

// Identity describes the authenticated caller for the duration of one
// request. Verifiers build it, the HTTP middleware attaches it to the
// request context, and the dispatcher passes it explicitly through every
// authorization decision. It is never stored.
type Identity struct {
	// ID is the stable subject identifier from the credential.
	ID string

	// Role determines the derived permission set when no explicit override
	// is present.
	Role Role

	// Permissions, when non-empty, is the authoritative permission set for
	// this identity. The role mapping is not consulted at all.
	Permissions []Permission

	// ExpiresAt bounds the credential's validity. Nil means no expiry.
	ExpiresAt *time.Time
}

// EffectivePermissions returns the permission set this identity operates
// with: the explicit override when set, the role-derived set otherwise.
func (id *Identity) EffectivePermissions() []Permission {
	if len(id.Permissions) > 0 {
		out := make([]Permission, len(id.Permissions))
		copy(out, id.Permissions)
		return out
	}
	return PermissionsForRole(id.Role)
}

// HasPermission reports whether this identity holds p.
func (id *Identity) HasPermission(p Permission) bool {
	if len(id.Permissions) > 0 {
		for _, have := range id.Permissions {
			if have == p {
				return true
			}
		}
		return false
	}
	for _, have := range PermissionsForRole(id.Role) {
		if have == p {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether id holds at least one of the required
// permissions. A nil identity or an empty required set matches nothing;
// callers normalize requirements with RequiredOrDefault first.
func HasAnyPermission(id *Identity, required []Permission) bool {
	if id == nil {
		return false
	}
	for _, p := range required {
		if id.HasPermission(p) {
			return true
		}
	}
	return false
}

// Expired reports whether the identity's credential expiry has passed.
// Identities without an expiry never expire.
func (id *Identity) Expired(now time.Time) bool {
	return id.ExpiresAt != nil && now.After(*id.ExpiresAt)
}
