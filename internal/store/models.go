package store

import (
	"time"

	"kanban/api/internal/orderkey"
	"kanban/api/internal/rbac"
)

type Board struct {
	ID          string
	Name        string
	Description *string
	Owner       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BoardSummary is a board as seen by one member.
type BoardSummary struct {
	Board
	MyRole       rbac.Role
	MembersCount int
}

type Column struct {
	ID        string
	BoardID   string
	Name      string
	SortKey   orderkey.Key
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Card struct {
	ID          string
	BoardID     string
	ColumnID    string
	Title       string
	Description *string
	SortKey     orderkey.Key
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Membership struct {
	BoardID   string
	UserID    string
	Role      rbac.Role
	Status    rbac.Status
	InvitedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invitation is a pending invite addressed by email. Delivery and acceptance
// happen outside this service.
type Invitation struct {
	ID        string
	BoardID   string
	Email     string
	Role      rbac.Role
	Status    string
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const InvitationPending = "pending"

// BoardContent patches board fields; nil fields are left unchanged.
type BoardContent struct {
	Name        *string
	Description *string
}

// CardContent patches card fields; nil fields are left unchanged.
type CardContent struct {
	Title       *string
	Description *string
}

func (c Column) Entry() Entry {
	return Entry{
		Kind:      KindColumn,
		ID:        c.ID,
		BoardID:   c.BoardID,
		ParentID:  c.BoardID,
		Key:       c.SortKey,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (c Card) Entry() Entry {
	return Entry{
		Kind:      KindCard,
		ID:        c.ID,
		BoardID:   c.BoardID,
		ParentID:  c.ColumnID,
		Key:       c.SortKey,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
