package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"kanban/api/internal/config"
	"kanban/api/internal/rbac"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

// Caller is the authenticated user a request acts for.
type Caller struct {
	UserID string
	Name   string
}

// DataStore is everything the service needs from persistence. Both
// store.MemoryStore and store.PostgresStore satisfy it.
type DataStore interface {
	store.Hierarchy
	rbac.Directory
	Ping(context.Context) error
	CreateBoard(context.Context, store.Board) (store.Board, error)
	GetBoard(context.Context, string) (store.Board, error)
	ListBoardsForUser(context.Context, string) ([]store.BoardSummary, error)
	UpdateBoard(context.Context, string, store.BoardContent) (store.Board, error)
	DeleteBoard(context.Context, string) error
	InsertColumn(context.Context, store.Column) (store.Column, error)
	GetColumn(context.Context, string) (store.Column, error)
	ListColumns(context.Context, string) ([]store.Column, error)
	RenameColumn(context.Context, string, string, *int64) (store.Column, error)
	DeleteColumn(context.Context, string) error
	InsertCard(context.Context, store.Card) (store.Card, error)
	GetCard(context.Context, string) (store.Card, error)
	ListBoardCards(context.Context, string) ([]store.Card, error)
	UpdateCardContent(context.Context, string, store.CardContent, *int64) (store.Card, error)
	DeleteCard(context.Context, string) error
	GetMembership(context.Context, string, string) (store.Membership, error)
	AddMembership(context.Context, store.Membership) (store.Membership, error)
	ListMemberships(context.Context, string) ([]store.Membership, error)
	InsertInvitation(context.Context, store.Invitation) (store.Invitation, error)
}

var (
	_ DataStore = (*store.MemoryStore)(nil)
	_ DataStore = (*store.PostgresStore)(nil)
)

type Service struct {
	store    DataStore
	guard    *rbac.Guard
	reorder  *reorder.Transaction
	validate *validator.Validate
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cfg config.Config, data DataStore, opts ...Option) *Service {
	s := &Service{
		store:    data,
		guard:    rbac.NewGuard(data),
		validate: newValidator(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reorder = reorder.New(data,
		reorder.WithMaxAttempts(cfg.ReorderMaxAttempts),
		reorder.WithLogger(s.logger),
	)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authorize reports whether userID may perform action on boardID.
func (s *Service) Authorize(ctx context.Context, userID, boardID string, action rbac.Action) (bool, error) {
	decision, err := s.guard.Authorize(ctx, userID, boardID, action)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// authorize is Authorize for service methods: a denial comes back as a
// DomainError, 404 when the caller cannot see the board at all.
func (s *Service) authorize(ctx context.Context, caller Caller, boardID string, action rbac.Action) (rbac.Decision, error) {
	decision, err := s.guard.Authorize(ctx, caller.UserID, boardID, action)
	if err != nil {
		return rbac.Decision{}, fmt.Errorf("authorize %s on board %s: %w", action, boardID, err)
	}
	if decision.Allowed {
		return decision, nil
	}
	if !decision.BoardVisible {
		return decision, notFound("Board")
	}
	s.logger.InfoContext(ctx, "access denied",
		"user_id", caller.UserID, "board_id", boardID, "action", action, "role", decision.Role)
	return decision, domainError(http.StatusForbidden, "FORBIDDEN", "Insufficient role", map[string]any{
		"action": action,
		"role":   decision.Role,
	})
}

func (s *Service) CreateBoard(ctx context.Context, caller Caller, input CreateBoardInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = trimmed(input.Description)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	board, err := s.store.CreateBoard(ctx, store.Board{
		ID:          util.NewID("board"),
		Name:        input.Name,
		Description: input.Description,
		Owner:       caller.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return boardPayload(board, rbac.RoleAdmin, 1), nil
}

func (s *Service) ListBoards(ctx context.Context, caller Caller) (map[string]any, error) {
	summaries, err := s.store.ListBoardsForUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	items := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, boardPayload(summary.Board, summary.MyRole, summary.MembersCount))
	}
	return map[string]any{"items": items}, nil
}

// GetBoard returns the board with its columns and cards in display order.
func (s *Service) GetBoard(ctx context.Context, caller Caller, boardID string) (map[string]any, error) {
	decision, err := s.authorize(ctx, caller, boardID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	var (
		board   store.Board
		columns []store.Column
		cards   []store.Card
		members []store.Membership
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		board, err = s.store.GetBoard(gctx, boardID)
		return err
	})
	g.Go(func() error {
		var err error
		columns, err = s.store.ListColumns(gctx, boardID)
		return err
	})
	g.Go(func() error {
		var err error
		cards, err = s.store.ListBoardCards(gctx, boardID)
		return err
	})
	g.Go(func() error {
		var err error
		members, err = s.store.ListMemberships(gctx, boardID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load board %s: %w", boardID, err)
	}

	columnItems := make([]map[string]any, 0, len(columns))
	for _, col := range columns {
		columnItems = append(columnItems, columnPayload(col))
	}
	cardItems := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		cardItems = append(cardItems, cardPayload(card))
	}
	return map[string]any{
		"board":   boardPayload(board, decision.Role, len(members)),
		"columns": columnItems,
		"cards":   cardItems,
	}, nil
}

func (s *Service) UpdateBoard(ctx context.Context, caller Caller, boardID string, input UpdateBoardInput) (map[string]any, error) {
	decision, err := s.authorize(ctx, caller, boardID, rbac.ActionManageBoard)
	if err != nil {
		return nil, err
	}
	input.Name = trimmed(input.Name)
	input.Description = trimmed(input.Description)
	if input.Name == nil && input.Description == nil {
		return nil, validationError("name or description required", nil)
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	board, err := s.store.UpdateBoard(ctx, boardID, store.BoardContent{Name: input.Name, Description: input.Description})
	if err != nil {
		return nil, fmt.Errorf("update board: %w", err)
	}
	members, err := s.store.ListMemberships(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	return boardPayload(board, decision.Role, len(members)), nil
}

func (s *Service) DeleteBoard(ctx context.Context, caller Caller, boardID string) error {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManageBoard); err != nil {
		return err
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	s.logger.InfoContext(ctx, "board deleted", "board_id", boardID, "user_id", caller.UserID)
	return nil
}

func boardPayload(board store.Board, role rbac.Role, membersCount int) map[string]any {
	return map[string]any{
		"id":           board.ID,
		"name":         board.Name,
		"description":  board.Description,
		"owner":        board.Owner,
		"myRole":       role,
		"membersCount": membersCount,
		"createdAt":    board.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    board.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func columnPayload(col store.Column) map[string]any {
	return map[string]any{
		"id":        col.ID,
		"boardId":   col.BoardID,
		"name":      col.Name,
		"sortKey":   col.SortKey.String(),
		"version":   col.Version,
		"createdAt": col.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": col.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func cardPayload(card store.Card) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"boardId":     card.BoardID,
		"columnId":    card.ColumnID,
		"title":       card.Title,
		"description": card.Description,
		"sortKey":     card.SortKey.String(),
		"version":     card.Version,
		"createdAt":   card.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   card.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func membershipPayload(m store.Membership) map[string]any {
	return map[string]any{
		"boardId":   m.BoardID,
		"userId":    m.UserID,
		"role":      m.Role,
		"status":    m.Status,
		"invitedBy": m.InvitedBy,
		"createdAt": m.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": m.UpdatedAt.Format(time.RFC3339Nano),
	}
}
