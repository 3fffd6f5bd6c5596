// Package auth implements the identity and permission model for sigil-gateway.
//
// # Identity
//
// An Identity is built per-request by a TokenVerifier and travels in the
// request context via WithIdentity/FromContext. It is never persisted. An
// identity carries:
//
//   - ID: stable subject identifier from the credential (e.g., "user:xxx")
//   - Role: one of the compiled-in roles
//   - Permissions: optional explicit override set
//   - ExpiresAt: optional credential expiry
//
// # Roles and Permissions
//
// Roles and permissions are compiled in; there is no database of either. The
// role-to-permission mapping is fixed at build time:
//
//   - admin: every permission
//   - standard: everything except delete-data
//   - readonly: read-data and list-capabilities only
//
// Unknown roles derive the empty permission set, so a token minted with a
// role this build does not know authorizes nothing.
//
// When an identity carries a non-empty explicit permission set, that set is
// authoritative and the role mapping is not consulted at all. This allows
// narrowly-scoped tokens (e.g., an admin-role token restricted to read-data)
// independent of role.
//
// # Authentication Methods
//
// The package supports two credential forms behind one TokenVerifier
// interface:
//
//   - JWT Tokens: HS256-signed, claims sub/role/perms/exp. Signed with the
//     configured jwt_secret. The perms claim, when present, becomes the
//     identity's explicit override.
//
//   - Static Tokens: opaque strings declared in config as bcrypt hashes with
//     an attached subject, role, and optional permission set. Verified
//     identities are cached briefly so repeated requests do not pay the
//     bcrypt comparison each time.
//
// MultiVerifier chains verifiers so a single Authorization header serves
// both forms.
//
// # HTTP Middleware
//
// Middleware attaches a verified Identity to the request context. A request
// without an Authorization header passes through untouched; whether the
// operation demands an identity is the dispatcher's decision, not the
// middleware's. A request presenting an invalid credential is rejected
// immediately with 401.
package auth
