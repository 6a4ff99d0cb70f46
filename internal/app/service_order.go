package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kanban/api/internal/orderkey"
	"kanban/api/internal/rbac"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

// CreateSiblingInput creates a column (ParentID is the board) or a card
// (ParentID is its column) next to optional anchors.
type CreateSiblingInput struct {
	Kind        store.Kind
	BoardID     string
	ParentID    string
	Name        string
	Description *string
	BeforeID    string
	AfterID     string
}

type MoveSiblingInput struct {
	Kind            store.Kind
	ID              string
	BoardID         string
	BeforeID        string
	AfterID         string
	TargetParentID  string
	ExpectedVersion *int64
}

func kindLabel(kind store.Kind) string {
	if kind == store.KindCard {
		return "Card"
	}
	return "Column"
}

func (s *Service) CreateSibling(ctx context.Context, caller Caller, input CreateSiblingInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, caller, input.BoardID, rbac.ActionMutate); err != nil {
		return nil, err
	}

	req := reorder.CreateRequest{
		Kind:      input.Kind,
		BoardID:   input.BoardID,
		ParentID:  input.ParentID,
		Placement: reorder.FromAnchors(input.AfterID, input.BeforeID),
	}

	switch input.Kind {
	case store.KindColumn:
		var created store.Column
		_, err := s.reorder.Create(ctx, req, func(ctx context.Context, key orderkey.Key) error {
			col, err := s.store.InsertColumn(ctx, store.Column{
				ID:      util.NewID("col"),
				BoardID: input.BoardID,
				Name:    input.Name,
				SortKey: key,
			})
			if err != nil {
				return err
			}
			created = col
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("create column: %w", err)
		}
		return columnPayload(created), nil

	case store.KindCard:
		var created store.Card
		_, err := s.reorder.Create(ctx, req, func(ctx context.Context, key orderkey.Key) error {
			card, err := s.store.InsertCard(ctx, store.Card{
				ID:          util.NewID("card"),
				BoardID:     input.BoardID,
				ColumnID:    input.ParentID,
				Title:       input.Name,
				Description: input.Description,
				SortKey:     key,
			})
			if err != nil {
				return err
			}
			created = card
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("Column")
		}
		if err != nil {
			return nil, fmt.Errorf("create card: %w", err)
		}
		return cardPayload(created), nil
	}
	return nil, validationError(fmt.Sprintf("unknown kind %q", input.Kind), nil)
}

func (s *Service) MoveSibling(ctx context.Context, caller Caller, input MoveSiblingInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, caller, input.BoardID, rbac.ActionMutate); err != nil {
		return nil, err
	}

	moved, err := s.reorder.Move(ctx, reorder.MoveRequest{
		Kind:            input.Kind,
		ItemID:          input.ID,
		BoardID:         input.BoardID,
		TargetParentID:  input.TargetParentID,
		Placement:       reorder.FromAnchors(input.AfterID, input.BeforeID),
		ExpectedVersion: input.ExpectedVersion,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(kindLabel(input.Kind))
	}
	if err != nil {
		return nil, fmt.Errorf("move %s: %w", input.Kind, err)
	}
	s.logger.DebugContext(ctx, "sibling moved",
		"kind", moved.Kind, "id", moved.ID, "parent_id", moved.ParentID, "key", moved.Key.String(), "version", moved.Version)

	switch input.Kind {
	case store.KindColumn:
		col, err := s.store.GetColumn(ctx, moved.ID)
		if err != nil {
			return nil, fmt.Errorf("reload column: %w", err)
		}
		return columnPayload(col), nil
	default:
		card, err := s.store.GetCard(ctx, moved.ID)
		if err != nil {
			return nil, fmt.Errorf("reload card: %w", err)
		}
		return cardPayload(card), nil
	}
}

func (s *Service) CreateColumn(ctx context.Context, caller Caller, boardID string, input CreateColumnInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	return s.CreateSibling(ctx, caller, CreateSiblingInput{
		Kind:     store.KindColumn,
		BoardID:  boardID,
		Name:     input.Name,
		BeforeID: input.BeforeColumnID,
		AfterID:  input.AfterColumnID,
	})
}

func (s *Service) MoveColumn(ctx context.Context, caller Caller, boardID, columnID string, input MoveColumnInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	return s.MoveSibling(ctx, caller, MoveSiblingInput{
		Kind:            store.KindColumn,
		ID:              columnID,
		BoardID:         boardID,
		BeforeID:        input.BeforeColumnID,
		AfterID:         input.AfterColumnID,
		ExpectedVersion: input.ExpectedVersion,
	})
}

func (s *Service) RenameColumn(ctx context.Context, caller Caller, boardID, columnID string, input RenameColumnInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionMutate); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.columnOnBoard(ctx, boardID, columnID); err != nil {
		return nil, err
	}

	col, err := s.store.RenameColumn(ctx, columnID, input.Name, input.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("rename column: %w", err)
	}
	return columnPayload(col), nil
}

func (s *Service) DeleteColumn(ctx context.Context, caller Caller, boardID, columnID string) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionMutate); err != nil {
		return err
	}
	if _, err := s.columnOnBoard(ctx, boardID, columnID); err != nil {
		return err
	}
	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		return fmt.Errorf("delete column: %w", err)
	}
	return nil
}

func (s *Service) CreateCard(ctx context.Context, caller Caller, boardID, columnID string, input CreateCardInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = trimmed(input.Description)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	return s.CreateSibling(ctx, caller, CreateSiblingInput{
		Kind:        store.KindCard,
		BoardID:     boardID,
		ParentID:    columnID,
		Name:        input.Title,
		Description: input.Description,
		BeforeID:    input.BeforeCardID,
		AfterID:     input.AfterCardID,
	})
}

func (s *Service) MoveCard(ctx context.Context, caller Caller, boardID, cardID string, input MoveCardInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	return s.MoveSibling(ctx, caller, MoveSiblingInput{
		Kind:            store.KindCard,
		ID:              cardID,
		BoardID:         boardID,
		BeforeID:        input.BeforeCardID,
		AfterID:         input.AfterCardID,
		TargetParentID:  input.ToColumnID,
		ExpectedVersion: input.ExpectedVersion,
	})
}

func (s *Service) UpdateCard(ctx context.Context, caller Caller, boardID, cardID string, input UpdateCardInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionMutate); err != nil {
		return nil, err
	}
	input.Title = trimmed(input.Title)
	input.Description = trimmed(input.Description)
	if input.Title == nil && input.Description == nil {
		return nil, validationError("title or description required", nil)
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.cardOnBoard(ctx, boardID, cardID); err != nil {
		return nil, err
	}

	card, err := s.store.UpdateCardContent(ctx, cardID, store.CardContent{Title: input.Title, Description: input.Description}, input.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update card: %w", err)
	}
	return cardPayload(card), nil
}

func (s *Service) DeleteCard(ctx context.Context, caller Caller, boardID, cardID string) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionMutate); err != nil {
		return err
	}
	if _, err := s.cardOnBoard(ctx, boardID, cardID); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

// columnOnBoard hides columns of other boards behind a 404.
func (s *Service) columnOnBoard(ctx context.Context, boardID, columnID string) (store.Column, error) {
	col, err := s.store.GetColumn(ctx, columnID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && col.BoardID != boardID) {
		return store.Column{}, notFound("Column")
	}
	if err != nil {
		return store.Column{}, fmt.Errorf("get column: %w", err)
	}
	return col, nil
}

func (s *Service) cardOnBoard(ctx context.Context, boardID, cardID string) (store.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && card.BoardID != boardID) {
		return store.Card{}, notFound("Card")
	}
	if err != nil {
		return store.Card{}, fmt.Errorf("get card: %w", err)
	}
	return card, nil
}
