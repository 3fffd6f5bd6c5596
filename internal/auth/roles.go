// ABOUTME: Compiled-in roles, permissions, and the role-to-permission mapping
// ABOUTME: Unknown roles derive the empty permission set (fail closed)

package auth

// Role represents a compiled-in authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStandard Role = "standard"
	RoleReadonly Role = "readonly"
)

// ValidRoles lists all compiled-in roles.
var ValidRoles = []Role{
	RoleAdmin,
	RoleStandard,
	RoleReadonly,
}

// Permission represents a single grantable class of operations.
type Permission string

const (
	PermReadData         Permission = "read-data"
	PermCreateData       Permission = "create-data"
	PermUpdateData       Permission = "update-data"
	PermDeleteData       Permission = "delete-data"
	PermListCapabilities Permission = "list-capabilities"
	PermCallCapability   Permission = "call-capability"
)

// AllPermissions lists every permission the gateway understands.
var AllPermissions = []Permission{
	PermReadData,
	PermCreateData,
	PermUpdateData,
	PermDeleteData,
	PermListCapabilities,
	PermCallCapability,
}

// rolePermissions is the compiled-in role-to-permission mapping. Never
// mutated after init; PermissionsForRole hands out copies.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermReadData,
		PermCreateData,
		PermUpdateData,
		PermDeleteData,
		PermListCapabilities,
		PermCallCapability,
	},
	RoleStandard: {
		PermReadData,
		PermCreateData,
		PermUpdateData,
		PermListCapabilities,
		PermCallCapability,
	},
	RoleReadonly: {
		PermReadData,
		PermListCapabilities,
	},
}

// PermissionsForRole returns the permission set granted by a role. Unknown
// roles yield an empty set, never an error.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return []Permission{}
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// ValidRole reports whether role is one of the compiled-in roles.
func ValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// ValidPermission reports whether p names a known permission.
func ValidPermission(p Permission) bool {
	for _, known := range AllPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// RequiredOrDefault normalizes a capability's declared permission set. A
// capability that declares nothing requires call-capability.
func RequiredOrDefault(perms []Permission) []Permission {
	if len(perms) == 0 {
		return []Permission{PermCallCapability}
	}
	return perms
}
