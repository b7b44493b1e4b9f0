package auth

import "slices"

// Capabilities consumed by console sections. Callers may check strings that are not listed here.
const (
	CapSchoolRead       = "school:read"
	CapSchoolWrite      = "school:write"
	CapUsersSchool      = "users:school"
	CapUsersRead        = "users:read"
	CapContentSchool    = "content:school"
	CapContentRead      = "content:read"
	CapContentCreate    = "content:create"
	CapAnalyticsClass   = "analytics:class"
	CapAnalyticsFinance = "analytics:finance"
	CapProgressOwn      = "progress:own"
	CapTicketsManage    = "tickets:manage"
	CapBillingManage    = "billing:manage"
	CapHealthRead       = "health:read"
	CapBugsManage       = "bugs:manage"
)

// Grant is what a role may do: everything, or an explicit capability list.
type Grant struct {
	All          bool
	Capabilities []string
}

// grants holds one explicit decision per role. TestEveryRoleHasGrant keeps it in step with AllRoles.
var grants = map[Role]Grant{
	RoleSuperAdmin: {All: true},
	RoleSchoolAdmin: {Capabilities: []string{
		CapSchoolRead, CapSchoolWrite, CapUsersSchool, CapContentSchool,
	}},
	RoleTeacher: {Capabilities: []string{
		CapContentRead, CapContentCreate, CapAnalyticsClass,
	}},
	RoleStudent: {Capabilities: []string{
		CapContentRead, CapProgressOwn,
	}},
	RoleSupportAgent: {Capabilities: []string{
		CapTicketsManage, CapUsersRead, CapSchoolRead,
	}},
	RoleFinanceAdmin: {Capabilities: []string{
		CapBillingManage, CapAnalyticsFinance,
	}},
	RoleDevOps: {Capabilities: []string{
		CapHealthRead, CapBugsManage,
	}},
}

// GrantFor returns a copy of the role's grant. Unknown roles get the empty grant.
func GrantFor(role Role) Grant {
	g, ok := grants[role]
	if !ok {
		return Grant{}
	}
	return Grant{All: g.All, Capabilities: slices.Clone(g.Capabilities)}
}

// RoleAllows reports whether role may perform capability. It never fails.
func RoleAllows(role Role, capability string) bool {
	g, ok := grants[role]
	if !ok {
		return false
	}
	if g.All {
		return true
	}
	return slices.Contains(g.Capabilities, capability)
}
