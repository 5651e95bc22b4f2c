package auth

import "slices"

const (
	PermProductsRead    Permission = "products:read"
	PermProductsCreate  Permission = "products:create"
	PermProductsUpdate  Permission = "products:update"
	PermProductsDelete  Permission = "products:delete"
	PermOrdersRead      Permission = "orders:read"
	PermOrdersCreate    Permission = "orders:create"
	PermOrdersUpdate    Permission = "orders:update"
	PermOrdersDelete    Permission = "orders:delete"
	PermCustomersRead   Permission = "customers:read"
	PermCustomersCreate Permission = "customers:create"
	PermCustomersUpdate Permission = "customers:update"
	PermCustomersDelete Permission = "customers:delete"
	PermSettingsRead    Permission = "settings:read"
	PermSettingsUpdate  Permission = "settings:update"
	PermUsersRead       Permission = "users:read"
	PermUsersInvite     Permission = "users:invite"
	PermUsersUpdate     Permission = "users:update"
	PermUsersDelete     Permission = "users:delete"
	PermAPIKeysRead     Permission = "apikeys:read"
	PermAPIKeysCreate   Permission = "apikeys:create"
	PermAPIKeysRevoke   Permission = "apikeys:revoke"
	PermAuditRead       Permission = "audit:read"
)

var viewerPermissions = []Permission{
	PermProductsRead,
	PermOrdersRead,
	PermCustomersRead,
	PermSettingsRead,
}

var editorPermissions = append(slices.Clone(viewerPermissions),
	PermProductsCreate, PermProductsUpdate,
	PermOrdersCreate, PermOrdersUpdate,
	PermCustomersCreate, PermCustomersUpdate,
)

var adminPermissions = append(slices.Clone(editorPermissions),
	PermProductsDelete, PermOrdersDelete, PermCustomersDelete,
	PermSettingsUpdate,
	PermUsersRead, PermUsersInvite, PermUsersUpdate, PermUsersDelete,
	PermAPIKeysRead, PermAPIKeysCreate, PermAPIKeysRevoke,
	PermAuditRead,
)

// RolePermissions is the static grant table. OWNER has no entry; HasPermission
// passes it unconditionally.
var RolePermissions = map[Role][]Permission{
	RoleViewer: viewerPermissions,
	RoleEditor: editorPermissions,
	RoleAdmin:  adminPermissions,
}

// AllPermissions lists every permission known to the system.
var AllPermissions = slices.Clone(adminPermissions)

var roleLevels = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level returns the rank of r, or 0 when r is unknown.
func (r Role) Level() int { return roleLevels[r] }

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return slices.Contains(AllPermissions, p)
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	if role == RoleOwner {
		return true
	}
	return slices.Contains(RolePermissions[role], perm)
}

// PermissionsFor returns a copy of the permissions granted to role.
func PermissionsFor(role Role) []Permission {
	if role == RoleOwner {
		return slices.Clone(AllPermissions)
	}
	return slices.Clone(RolePermissions[role])
}

// CanGrant reports whether a caller holding caller may hand out target.
func CanGrant(caller, target Role) bool {
	return target.Valid() && caller.Valid() && target.Level() <= caller.Level()
}

// CanManage reports whether caller may modify or deactivate a user holding
// target. Only OWNER may act on peers.
func CanManage(caller, target Role) bool {
	if caller == RoleOwner {
		return true
	}
	return caller.Valid() && target.Level() < caller.Level()
}
