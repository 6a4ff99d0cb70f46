package rbac

import (
	"fmt"
	"strings"
)

type Role string
type Status string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
)

const (
	ActionRead          Action = "read"
	ActionMutate        Action = "mutate"
	ActionManageMembers Action = "manage_members"
	// ActionManageBoard covers renaming and deleting the board itself.
	ActionManageBoard Action = "manage_board"
)

// Rank orders roles by capability. Unknown roles rank below reader.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleWriter:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r carries every capability of min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() > 0 && r.Rank() >= min.Rank()
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return role, nil
}

func ParseStatus(value string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusActive, StatusPending:
		return status, nil
	default:
		return "", fmt.Errorf("unknown membership status %q", value)
	}
}

// required is the weakest role allowed to perform each action.
var required = map[Action]Role{
	ActionRead:          RoleReader,
	ActionMutate:        RoleWriter,
	ActionManageMembers: RoleAdmin,
	ActionManageBoard:   RoleAdmin,
}

func Can(role Role, action Action) bool {
	min, ok := required[action]
	if !ok {
		return false
	}
	return role.AtLeast(min)
}
