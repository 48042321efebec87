// Package rbac implements the organization role hierarchy and permission
// model, and resolves a caller's role within an organization.
//
// Roles form a strict total order: owner > admin > member > viewer.
// Sufficiency ("at least this role") is decided by comparing ranks, and
// every role's permission set is a superset of the next lower role's.
package rbac

// Role represents an organization-level role
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Capability represents a named capability granted by a role
type Capability string

const (
	CapManageOrg     Capability = "manage_org"
	CapManageMembers Capability = "manage_members"
	CapManageBilling Capability = "manage_billing"
	CapEditContent   Capability = "edit_content"
	CapViewContent   Capability = "view_content"
)

// roleRanks is the total order over roles. Rank 0 is reserved for unknown
// roles and never satisfies any requirement.
var roleRanks = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// rolePermissions maps each role to its capability set. Higher ranks are
// supersets of lower ranks; TestPermissionMonotonicity enforces this.
var rolePermissions = map[Role]map[Capability]bool{
	RoleViewer: {
		CapViewContent: true,
	},
	RoleMember: {
		CapViewContent: true,
		CapEditContent: true,
	},
	RoleAdmin: {
		CapViewContent:   true,
		CapEditContent:   true,
		CapManageMembers: true,
		CapManageBilling: true,
	},
	RoleOwner: {
		CapViewContent:   true,
		CapEditContent:   true,
		CapManageMembers: true,
		CapManageBilling: true,
		CapManageOrg:     true,
	},
}

// AllRoles returns the roles in ascending rank order.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}
}

// Valid reports whether r is a recognized role. An unrecognized role in
// configuration or stored data is a deployment error; callers validate at
// the edges rather than special-casing it in comparisons.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the ordinal rank of a role. Unknown roles rank 0, below
// every defined role, so comparisons against them always deny.
func Rank(r Role) int {
	return roleRanks[r]
}

// IsSufficient reports whether actual meets or exceeds the required role.
// An empty actual role (not a member) is never sufficient.
func IsSufficient(required, actual Role) bool {
	if actual == "" {
		return false
	}
	return Rank(actual) >= Rank(required)
}

// IsHigherRank reports whether a strictly outranks b.
func IsHigherRank(a, b Role) bool {
	return Rank(a) > Rank(b)
}

// HasPermission reports whether a role grants a capability.
func HasPermission(r Role, cap Capability) bool {
	return rolePermissions[r][cap]
}

// Permissions returns a copy of the capability set for a role.
func Permissions(r Role) map[Capability]bool {
	perms := rolePermissions[r]
	out := make(map[Capability]bool, len(perms))
	for c := range perms {
		out[c] = true
	}
	return out
}
