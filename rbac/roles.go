package rbac

// Role represents a logical capability grouping for authenticated users.
type Role string

const (
	RoleUser      Role = "user"
	RoleSuperuser Role = "superuser"
)

// Permission represents an actionable verb within the API surface.
type Permission string

const (
	PermissionViewMissions   Permission = "missions:view"
	PermissionManageMissions Permission = "missions:manage"
	PermissionViewSession    Permission = "session:view"
)

// RoleMatrix enumerates which roles satisfy a permission.
var RoleMatrix = map[Permission][]Role{
	PermissionViewMissions: {
		RoleUser,
		RoleSuperuser,
	},
	PermissionManageMissions: {
		RoleSuperuser,
	},
	PermissionViewSession: {
		RoleUser,
		RoleSuperuser,
	},
}

// Privileged reports whether roles grant elevated capability. Handlers use it
// to choose between the regular and the privileged projection of a record.
func Privileged(roles []Role) bool {
	return hasIntersection(roles, RoleMatrix[PermissionManageMissions])
}
