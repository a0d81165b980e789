package enums

import "fmt"

// Role is the caller's marketplace role.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

var validRoleValues = []Role{
	RoleBuyer,
	RoleSeller,
	RoleAdmin,
}

// String implements fmt.Stringer.
func (v Role) String() string {
	return string(v)
}

// IsValid reports whether the value is a known Role.
func (v Role) IsValid() bool {
	for _, candidate := range validRoleValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoleValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
