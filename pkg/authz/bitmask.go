package authz

import "strings"

type PermissionMask uint64

type RoleMask uint64

const (
	PermissionRead PermissionMask = 1 << iota
	PermissionWrite
	PermissionDelete
	PermissionAdmin
)

const (
	RoleUser RoleMask = 1 << iota
	RoleOwner
	RoleSuperAdmin
)

const authorityPrefix = "ROLE_"

// Authority names as issued by the user directory.
const (
	AuthorityUser       = "ROLE_USER"
	AuthorityOwner      = "ROLE_OWNER"
	AuthoritySuperAdmin = "ROLE_SUPERADMIN"
)

var authorityRoles = map[string]RoleMask{
	AuthorityUser:       RoleUser,
	AuthorityOwner:      RoleOwner,
	AuthoritySuperAdmin: RoleSuperAdmin,
}

var RolePermissionMatrix = map[RoleMask]PermissionMask{
	RoleUser:       PermissionRead,
	RoleOwner:      PermissionRead | PermissionWrite | PermissionDelete,
	RoleSuperAdmin: PermissionRead | PermissionWrite | PermissionDelete | PermissionAdmin,
}

// NormalizeAuthority upper-cases an authority and adds the ROLE_ prefix when missing.
func NormalizeAuthority(authority string) string {
	normalized := strings.ToUpper(strings.TrimSpace(authority))
	if normalized == "" || strings.HasPrefix(normalized, authorityPrefix) {
		return normalized
	}
	return authorityPrefix + normalized
}

// RoleMaskFromAuthorities folds known authorities into a mask; unknown ones are ignored.
func RoleMaskFromAuthorities(authorities []string) RoleMask {
	var mask RoleMask
	for _, authority := range authorities {
		mask |= authorityRoles[NormalizeAuthority(authority)]
	}
	return mask
}

func EffectivePermissions(roleMask RoleMask, direct PermissionMask) PermissionMask {
	effective := direct

	for role, perms := range RolePermissionMatrix {
		if roleMask&role != 0 {
			effective |= perms
		}
	}

	return effective
}

func HasAnyRole(current RoleMask, required RoleMask) bool {
	return current&required != 0
}

func HasAnyPermissions(current PermissionMask, required PermissionMask) bool {
	return current&required != 0
}

func HasAllPermissions(current PermissionMask, required PermissionMask) bool {
	return current&required == required
}
