package rbac

import (
	"context"
	"fmt"
)

// Directory answers the two questions the guard asks about a board.
type Directory interface {
	// BoardOwner returns found=false when the board does not exist.
	BoardOwner(ctx context.Context, boardID string) (owner string, found bool, err error)
	// MemberRole returns found=false when the user has no membership row.
	MemberRole(ctx context.Context, boardID, userID string) (role Role, status Status, found bool, err error)
}

// Decision is the outcome of an authorization check. BoardVisible is false
// when the board is absent or the caller has no active membership on it;
// callers should then report the board as missing rather than forbidden.
type Decision struct {
	Allowed      bool
	Role         Role
	BoardVisible bool
}

type Guard struct {
	dir Directory
}

func NewGuard(dir Directory) *Guard {
	return &Guard{dir: dir}
}

func (g *Guard) Authorize(ctx context.Context, userID, boardID string, action Action) (Decision, error) {
	if userID == "" {
		return Decision{}, nil
	}
	owner, found, err := g.dir.BoardOwner(ctx, boardID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup board owner: %w", err)
	}
	if !found {
		return Decision{}, nil
	}

	role := Role("")
	if owner == userID {
		role = RoleAdmin
	} else {
		memberRole, status, ok, err := g.dir.MemberRole(ctx, boardID, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup membership: %w", err)
		}
		if !ok || status != StatusActive {
			return Decision{}, nil
		}
		role = memberRole
	}

	return Decision{
		Allowed:      Can(role, action),
		Role:         role,
		BoardVisible: true,
	}, nil
}
