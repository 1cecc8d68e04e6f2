package auth

import (
	"fmt"
	"strings"
)

// Role is the account role stored on users.role.
type Role string

const (
	RoleRenter   Role = "RENTER"
	RoleLandlord Role = "LANDLORD"
	RoleAgent    Role = "AGENT"
	RoleAdmin    Role = "ADMIN"
)

// DefaultRole is assigned when a sign-in does not request one.
const DefaultRole = RoleRenter

var rolePermissions = map[Role][]string{
	RoleRenter:   {"listings:read", "applications:create", "messages:send"},
	RoleLandlord: {"listings:read", "listings:write", "applications:review", "messages:send"},
	RoleAgent:    {"listings:read", "listings:write", "applications:review", "clients:manage", "messages:send"},
	RoleAdmin:    {"*"},
}

// ParseRole validates a role requested at sign-in. Empty means DefaultRole.
// ADMIN is never self-assignable.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case "":
		return DefaultRole, nil
	case RoleRenter, RoleLandlord, RoleAgent:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// PermissionsForRole returns a fresh copy of the role's permission set.
// Unknown roles get none.
func PermissionsForRole(r Role) []string {
	perms := rolePermissions[r]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
