package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"kanban/api/internal/orderkey"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrKeyCollision    = errors.New("order key already taken in sibling group")
	ErrVersionMismatch = errors.New("version mismatch")
)

// Kind names a sibling group type. Columns are grouped by board, cards by
// column.
type Kind string

const (
	KindColumn Kind = "column"
	KindCard   Kind = "card"
)

// ParentKind is the kind whose ids act as parents of k, or "" when the
// parent is a board.
func (k Kind) ParentKind() Kind {
	if k == KindCard {
		return KindColumn
	}
	return ""
}

func (k Kind) Valid() bool {
	return k == KindColumn || k == KindCard
}

// Entry is the ordering view of a column or card.
type Entry struct {
	Kind      Kind
	ID        string
	BoardID   string
	ParentID  string
	Key       orderkey.Key
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeyUpdate relocates an item within, or across, sibling groups. A nil
// ExpectedVersion skips the version fence.
type KeyUpdate struct {
	ID              string
	ParentID        string
	Key             orderkey.Key
	ExpectedVersion *int64
}

// Hierarchy is the ordered key-value view the reorder transaction needs.
// UpdateKey must check the version fence and the (parent, key) uniqueness
// atomically with the write and bump the item's version.
type Hierarchy interface {
	Lookup(ctx context.Context, kind Kind, id string) (Entry, error)
	ListOrdered(ctx context.Context, kind Kind, parentID string) ([]Entry, error)
	UpdateKey(ctx context.Context, kind Kind, update KeyUpdate) (Entry, error)
}

// SortEntries applies the sibling order: key, then creation time, then id.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
}

func entryLess(a, b Entry) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
