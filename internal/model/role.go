package model

import (
	"fmt"
	"strings"
)

// Role is a user's position in the CRM permission hierarchy. Roles are
// ranked; a check for a minimum role admits every role ranked at or above it.
type Role string

const (
	RoleSalesRep Role = "sales_rep"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleSalesRep: 1,
	RoleManager:  2,
	RoleAdmin:    3,
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q (want sales_rep, manager or admin)", s)
	}
	return r, nil
}

// Rank returns the role's position in the hierarchy; unknown roles rank 0.
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() > 0 && r.Rank() >= min.Rank()
}

// SeesAll reports whether the role may read records owned by other users.
func (r Role) SeesAll() bool {
	return r.AtLeast(RoleManager)
}
