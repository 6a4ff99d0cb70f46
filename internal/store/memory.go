package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kanban/api/internal/orderkey"
	"kanban/api/internal/rbac"
)

type groupKey struct {
	kind   Kind
	parent string
}

// MemoryStore keeps everything in process. Each sibling group has a key
// index that every write consults under the same lock, which gives the
// (parent, key) uniqueness the Postgres unique indexes give.
type MemoryStore struct {
	mu          sync.RWMutex
	boards      map[string]Board
	columns     map[string]Column
	cards       map[string]Card
	memberships map[string]map[string]Membership
	invitations map[string]Invitation
	keys        map[groupKey]map[orderkey.Key]string
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards:      make(map[string]Board),
		columns:     make(map[string]Column),
		cards:       make(map[string]Card),
		memberships: make(map[string]map[string]Membership),
		invitations: make(map[string]Invitation),
		keys:        make(map[groupKey]map[orderkey.Key]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// claimKey records key for id in the group or reports a collision.
// Callers hold s.mu for writing.
func (s *MemoryStore) claimKey(group groupKey, key orderkey.Key, id string) error {
	index := s.keys[group]
	if index == nil {
		index = make(map[orderkey.Key]string)
		s.keys[group] = index
	}
	if owner, taken := index[key]; taken && owner != id {
		return ErrKeyCollision
	}
	index[key] = id
	return nil
}

func (s *MemoryStore) releaseKey(group groupKey, key orderkey.Key, id string) {
	index := s.keys[group]
	if index[key] == id {
		delete(index, key)
	}
	if len(index) == 0 {
		delete(s.keys, group)
	}
}

func (s *MemoryStore) Lookup(_ context.Context, kind Kind, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case KindColumn:
		if col, ok := s.columns[id]; ok {
			return col.Entry(), nil
		}
	case KindCard:
		if card, ok := s.cards[id]; ok {
			return card.Entry(), nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *MemoryStore) ListOrdered(_ context.Context, kind Kind, parentID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrderedLocked(kind, parentID), nil
}

func (s *MemoryStore) listOrderedLocked(kind Kind, parentID string) []Entry {
	entries := make([]Entry, 0)
	switch kind {
	case KindColumn:
		for _, col := range s.columns {
			if col.BoardID == parentID {
				entries = append(entries, col.Entry())
			}
		}
	case KindCard:
		for _, card := range s.cards {
			if card.ColumnID == parentID {
				entries = append(entries, card.Entry())
			}
		}
	}
	SortEntries(entries)
	return entries
}

func (s *MemoryStore) UpdateKey(_ context.Context, kind Kind, update KeyUpdate) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch kind {
	case KindColumn:
		col, ok := s.columns[update.ID]
		if !ok {
			return Entry{}, ErrNotFound
		}
		if update.ParentID != col.BoardID {
			return Entry{}, ErrNotFound
		}
		if update.ExpectedVersion != nil && *update.ExpectedVersion != col.Version {
			return Entry{}, ErrVersionMismatch
		}
		group := groupKey{kind: KindColumn, parent: col.BoardID}
		if err := s.claimKey(group, update.Key, col.ID); err != nil {
			return Entry{}, err
		}
		if col.SortKey != update.Key {
			s.releaseKey(group, col.SortKey, col.ID)
		}
		col.SortKey = update.Key
		col.Version++
		col.UpdatedAt = now
		s.columns[col.ID] = col
		return col.Entry(), nil

	case KindCard:
		card, ok := s.cards[update.ID]
		if !ok {
			return Entry{}, ErrNotFound
		}
		target, ok := s.columns[update.ParentID]
		if !ok || target.BoardID != card.BoardID {
			return Entry{}, ErrNotFound
		}
		if update.ExpectedVersion != nil && *update.ExpectedVersion != card.Version {
			return Entry{}, ErrVersionMismatch
		}
		from := groupKey{kind: KindCard, parent: card.ColumnID}
		to := groupKey{kind: KindCard, parent: update.ParentID}
		if err := s.claimKey(to, update.Key, card.ID); err != nil {
			return Entry{}, err
		}
		if from != to || card.SortKey != update.Key {
			s.releaseKey(from, card.SortKey, card.ID)
		}
		card.ColumnID = update.ParentID
		card.SortKey = update.Key
		card.Version++
		card.UpdatedAt = now
		s.cards[card.ID] = card
		return card.Entry(), nil
	}
	return Entry{}, ErrNotFound
}

func (s *MemoryStore) CreateBoard(_ context.Context, board Board) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	board.CreatedAt = now
	board.UpdatedAt = now
	s.boards[board.ID] = board
	s.memberships[board.ID] = map[string]Membership{
		board.Owner: {
			BoardID:   board.ID,
			UserID:    board.Owner,
			Role:      rbac.RoleAdmin,
			Status:    rbac.StatusActive,
			InvitedBy: board.Owner,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	return board, nil
}

func (s *MemoryStore) GetBoard(_ context.Context, boardID string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	board, ok := s.boards[boardID]
	if !ok {
		return Board{}, ErrNotFound
	}
	return board, nil
}

func (s *MemoryStore) ListBoardsForUser(_ context.Context, userID string) ([]BoardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]BoardSummary, 0)
	for id, board := range s.boards {
		member, ok := s.memberships[id][userID]
		if !ok || member.Status != rbac.StatusActive {
			continue
		}
		role := member.Role
		if board.Owner == userID {
			role = rbac.RoleAdmin
		}
		items = append(items, BoardSummary{
			Board:        board,
			MyRole:       role,
			MembersCount: len(s.memberships[id]),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) UpdateBoard(_ context.Context, boardID string, content BoardContent) (Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.boards[boardID]
	if !ok {
		return Board{}, ErrNotFound
	}
	if content.Name != nil {
		board.Name = *content.Name
	}
	if content.Description != nil {
		board.Description = content.Description
	}
	board.UpdatedAt = s.now()
	s.boards[boardID] = board
	return board, nil
}

func (s *MemoryStore) DeleteBoard(_ context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[boardID]; !ok {
		return ErrNotFound
	}
	for id, col := range s.columns {
		if col.BoardID == boardID {
			s.deleteColumnLocked(id)
		}
	}
	for id, inv := range s.invitations {
		if inv.BoardID == boardID {
			delete(s.invitations, id)
		}
	}
	delete(s.memberships, boardID)
	delete(s.boards, boardID)
	return nil
}

func (s *MemoryStore) InsertColumn(_ context.Context, col Column) (Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[col.BoardID]; !ok {
		return Column{}, ErrNotFound
	}
	if err := s.claimKey(groupKey{kind: KindColumn, parent: col.BoardID}, col.SortKey, col.ID); err != nil {
		return Column{}, err
	}
	now := s.now()
	col.Version = 0
	col.CreatedAt = now
	col.UpdatedAt = now
	s.columns[col.ID] = col
	return col, nil
}

func (s *MemoryStore) GetColumn(_ context.Context, columnID string) (Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.columns[columnID]
	if !ok {
		return Column{}, ErrNotFound
	}
	return col, nil
}

func (s *MemoryStore) ListColumns(_ context.Context, boardID string) ([]Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.listOrderedLocked(KindColumn, boardID)
	items := make([]Column, 0, len(entries))
	for _, entry := range entries {
		items = append(items, s.columns[entry.ID])
	}
	return items, nil
}

func (s *MemoryStore) RenameColumn(_ context.Context, columnID, name string, expectedVersion *int64) (Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.columns[columnID]
	if !ok {
		return Column{}, ErrNotFound
	}
	if expectedVersion != nil && *expectedVersion != col.Version {
		return Column{}, ErrVersionMismatch
	}
	col.Name = name
	col.Version++
	col.UpdatedAt = s.now()
	s.columns[columnID] = col
	return col, nil
}

func (s *MemoryStore) DeleteColumn(_ context.Context, columnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.columns[columnID]; !ok {
		return ErrNotFound
	}
	s.deleteColumnLocked(columnID)
	return nil
}

func (s *MemoryStore) deleteColumnLocked(columnID string) {
	col := s.columns[columnID]
	for id, card := range s.cards {
		if card.ColumnID == columnID {
			s.releaseKey(groupKey{kind: KindCard, parent: columnID}, card.SortKey, id)
			delete(s.cards, id)
		}
	}
	s.releaseKey(groupKey{kind: KindColumn, parent: col.BoardID}, col.SortKey, columnID)
	delete(s.columns, columnID)
}

func (s *MemoryStore) InsertCard(_ context.Context, card Card) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.columns[card.ColumnID]
	if !ok || col.BoardID != card.BoardID {
		return Card{}, ErrNotFound
	}
	if err := s.claimKey(groupKey{kind: KindCard, parent: card.ColumnID}, card.SortKey, card.ID); err != nil {
		return Card{}, err
	}
	now := s.now()
	card.Version = 0
	card.CreatedAt = now
	card.UpdatedAt = now
	s.cards[card.ID] = card
	return card, nil
}

func (s *MemoryStore) GetCard(_ context.Context, cardID string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[cardID]
	if !ok {
		return Card{}, ErrNotFound
	}
	return card, nil
}

// ListBoardCards returns cards grouped by column order, each group in
// sibling order.
func (s *MemoryStore) ListBoardCards(_ context.Context, boardID string) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Card, 0)
	for _, col := range s.listOrderedLocked(KindColumn, boardID) {
		for _, entry := range s.listOrderedLocked(KindCard, col.ID) {
			items = append(items, s.cards[entry.ID])
		}
	}
	return items, nil
}

func (s *MemoryStore) UpdateCardContent(_ context.Context, cardID string, content CardContent, expectedVersion *int64) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return Card{}, ErrNotFound
	}
	if expectedVersion != nil && *expectedVersion != card.Version {
		return Card{}, ErrVersionMismatch
	}
	if content.Title != nil {
		card.Title = *content.Title
	}
	if content.Description != nil {
		card.Description = content.Description
	}
	card.Version++
	card.UpdatedAt = s.now()
	s.cards[cardID] = card
	return card, nil
}

func (s *MemoryStore) DeleteCard(_ context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	s.releaseKey(groupKey{kind: KindCard, parent: card.ColumnID}, card.SortKey, cardID)
	delete(s.cards, cardID)
	return nil
}

func (s *MemoryStore) GetMembership(_ context.Context, boardID, userID string) (Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.memberships[boardID][userID]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return member, nil
}

// AddMembership inserts m unless the user already has a membership on the
// board, and returns the stored row either way.
func (s *MemoryStore) AddMembership(_ context.Context, m Membership) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[m.BoardID]; !ok {
		return Membership{}, ErrNotFound
	}
	members := s.memberships[m.BoardID]
	if members == nil {
		members = make(map[string]Membership)
		s.memberships[m.BoardID] = members
	}
	if existing, ok := members[m.UserID]; ok {
		return existing, nil
	}
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	members[m.UserID] = m
	return m, nil
}

func (s *MemoryStore) ListMemberships(_ context.Context, boardID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Membership, 0, len(s.memberships[boardID]))
	for _, m := range s.memberships[boardID] {
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].UserID < items[j].UserID
	})
	return items, nil
}

func (s *MemoryStore) InsertInvitation(_ context.Context, inv Invitation) (Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[inv.BoardID]; !ok {
		return Invitation{}, ErrNotFound
	}
	now := s.now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	s.invitations[inv.ID] = inv
	return inv, nil
}

func (s *MemoryStore) BoardOwner(_ context.Context, boardID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	board, ok := s.boards[boardID]
	return board.Owner, ok, nil
}

func (s *MemoryStore) MemberRole(_ context.Context, boardID, userID string) (rbac.Role, rbac.Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.memberships[boardID][userID]
	return member.Role, member.Status, ok, nil
}
