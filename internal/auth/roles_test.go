// ABOUTME: Unit tests for the compiled-in role and permission mapping
// ABOUTME: Pins the exact permission set of each role and fail-closed unknowns

package auth

import (
	"reflect"
	"testing"
)

func TestPermissionsForRole_KnownRoles(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want []Permission
	}{
		{
			name: "admin gets all permissions",
			role: RoleAdmin,
			want: []Permission{
				PermReadData,
				PermCreateData,
				PermUpdateData,
				PermDeleteData,
				PermListCapabilities,
				PermCallCapability,
			},
		},
		{
			name: "standard gets everything except delete",
			role: RoleStandard,
			want: []Permission{
				PermReadData,
				PermCreateData,
				PermUpdateData,
				PermListCapabilities,
				PermCallCapability,
			},
		},
		{
			name: "readonly gets read and list only",
			role: RoleReadonly,
			want: []Permission{
				PermReadData,
				PermListCapabilities,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PermissionsForRole(tt.role)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PermissionsForRole(%q) = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole_StableAcrossCalls(t *testing.T) {
	for _, role := range ValidRoles {
		first := PermissionsForRole(role)
		for i := 0; i < 10; i++ {
			again := PermissionsForRole(role)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("PermissionsForRole(%q) changed between calls: %v vs %v", role, first, again)
			}
		}
	}
}

func TestPermissionsForRole_UnknownRoleEmpty(t *testing.T) {
	tests := []Role{"", "root", "superuser", "ADMIN", "Admin "}

	for _, role := range tests {
		got := PermissionsForRole(role)
		if len(got) != 0 {
			t.Errorf("PermissionsForRole(%q) = %v, want empty set", role, got)
		}
		if got == nil {
			t.Errorf("PermissionsForRole(%q) = nil, want empty slice", role)
		}
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleReadonly)
	if len(perms) == 0 {
		t.Fatal("PermissionsForRole(readonly) returned empty set")
	}

	perms[0] = Permission("tampered")

	again := PermissionsForRole(RoleReadonly)
	if again[0] != PermReadData {
		t.Errorf("mutating a returned slice leaked into the mapping: got %v", again)
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range ValidRoles {
		if !ValidRole(role) {
			t.Errorf("ValidRole(%q) = false, want true", role)
		}
	}
	for _, role := range []Role{"", "owner", "member"} {
		if ValidRole(role) {
			t.Errorf("ValidRole(%q) = true, want false", role)
		}
	}
}

func TestValidPermission(t *testing.T) {
	for _, p := range AllPermissions {
		if !ValidPermission(p) {
			t.Errorf("ValidPermission(%q) = false, want true", p)
		}
	}
	for _, p := range []Permission{"", "write-data", "read_data"} {
		if ValidPermission(p) {
			t.Errorf("ValidPermission(%q) = true, want false", p)
		}
	}
}

func TestRequiredOrDefault(t *testing.T) {
	tests := []struct {
		name  string
		perms []Permission
		want  []Permission
	}{
		{
			name:  "nil falls back to call-capability",
			perms: nil,
			want:  []Permission{PermCallCapability},
		},
		{
			name:  "empty falls back to call-capability",
			perms: []Permission{},
			want:  []Permission{PermCallCapability},
		},
		{
			name:  "declared set passes through",
			perms: []Permission{PermCreateData, PermUpdateData},
			want:  []Permission{PermCreateData, PermUpdateData},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequiredOrDefault(tt.perms)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RequiredOrDefault(%v) = %v, want %v", tt.perms, got, tt.want)
			}
		})
	}
}
