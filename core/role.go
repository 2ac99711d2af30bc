package core

import "fmt"

// Role is the closed set of roles a credential may carry
type Role string

const (
	RoleDonor      Role = "donor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superAdmin"
)

// DefaultRole is assigned on login; elevation is a separate administrative
// operation and is never inferred from the authentication flow.
const DefaultRole = RoleDonor

// ParseRole converts a string into a Role, rejecting anything outside the
// closed set
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDonor:
		return RoleDonor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q: %w", s, ErrCredentialInvalid)
	}
}

// CanApproveOrganizations reports whether the role may initiate or reject
// an organization approval
func (r Role) CanApproveOrganizations() bool {
	switch r {
	case RoleAdmin, RoleSuperAdmin:
		return true
	case RoleDonor:
		return false
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }
