package domain

import "fmt"

type Role string

const (
	RoleCreator Role = "creator"
	RoleViewer  Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCreator, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) String() string {
	return string(r)
}
