package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of console account types.
type Role string

const (
	RoleSuperAdmin   Role = "SuperAdmin"
	RoleSchoolAdmin  Role = "SchoolAdmin"
	RoleTeacher      Role = "Teacher"
	RoleStudent      Role = "Student"
	RoleSupportAgent Role = "SupportAgent"
	RoleFinanceAdmin Role = "FinanceAdmin"
	RoleDevOps       Role = "DevOps"
)

// AllRoles lists every role in display order.
var AllRoles = []Role{
	RoleSuperAdmin,
	RoleSchoolAdmin,
	RoleTeacher,
	RoleStudent,
	RoleSupportAgent,
	RoleFinanceAdmin,
	RoleDevOps,
}

// ParseRole maps a stored role name onto the enumeration.
func ParseRole(raw string) (Role, error) {
	raw = strings.TrimSpace(raw)
	for _, r := range AllRoles {
		if string(r) == raw {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

// User is the identity record held by a console session.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	OrganizationID string     `json:"organization_id,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	MFAEnabled     bool       `json:"mfa_enabled"`
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (u User) Clone() User {
	if u.LastLogin != nil {
		t := *u.LastLogin
		u.LastLogin = &t
	}
	return u
}

// Account is a directory entry: the user plus its credential material.
type Account struct {
	User         User
	PasswordHash string
	TOTPSecret   string
}
