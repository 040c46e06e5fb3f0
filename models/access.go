package models

import "fmt"

// AccessLevel is the effective access a caller holds on a folder or file.
// Levels are totally ordered: None < View < Create < Edit < Owner.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessView
	AccessCreate
	AccessEdit
	AccessOwner
)

func (a AccessLevel) String() string {
	switch a {
	case AccessView:
		return "view"
	case AccessCreate:
		return "create"
	case AccessEdit:
		return "edit"
	case AccessOwner:
		return "owner"
	default:
		return "none"
	}
}

// AtLeast reports whether a satisfies the required level.
func (a AccessLevel) AtLeast(required AccessLevel) bool {
	return a >= required
}

func (a AccessLevel) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// PermissionType is the level stored on a grant. Ownership is never granted.
type PermissionType string

const (
	PermissionView   PermissionType = "view"
	PermissionCreate PermissionType = "create"
	PermissionEdit   PermissionType = "edit"
)

func ParsePermissionType(s string) (PermissionType, error) {
	switch p := PermissionType(s); p {
	case PermissionView, PermissionCreate, PermissionEdit:
		return p, nil
	default:
		return "", fmt.Errorf("invalid permission type %q: %w", s, ErrInvalidInput)
	}
}

// Level maps a stored grant to its access level. Unknown values grant nothing.
func (p PermissionType) Level() AccessLevel {
	switch p {
	case PermissionView:
		return AccessView
	case PermissionCreate:
		return AccessCreate
	case PermissionEdit:
		return AccessEdit
	default:
		return AccessNone
	}
}
