package reorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kanban/api/internal/metrics"
	"kanban/api/internal/orderkey"
	"kanban/api/internal/store"
)

const DefaultMaxAttempts = 8

// Transaction places new and moved siblings. Every attempt re-reads the
// target group, computes a key locally and commits through the store, whose
// uniqueness check decides races; nothing is locked between read and write.
type Transaction struct {
	store       store.Hierarchy
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*Transaction)

func WithMaxAttempts(n int) Option {
	return func(t *Transaction) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transaction) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func New(h store.Hierarchy, opts ...Option) *Transaction {
	t := &Transaction{
		store:       h,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type CreateRequest struct {
	Kind      store.Kind
	BoardID   string
	ParentID  string
	Placement Placement
}

// InsertFunc writes the new item with key. It must return
// store.ErrKeyCollision when the key is already taken in the group.
type InsertFunc func(ctx context.Context, key orderkey.Key) error

type MoveRequest struct {
	Kind    store.Kind
	ItemID  string
	BoardID string
	// TargetParentID defaults to the item's current parent.
	TargetParentID  string
	Placement       Placement
	ExpectedVersion *int64
}

// Create computes a key for a new item in req's group and hands it to
// insert, retrying with fresh neighbours after a collision.
func (t *Transaction) Create(ctx context.Context, req CreateRequest, insert InsertFunc) (key orderkey.Key, err error) {
	if !req.Kind.Valid() {
		return "", fmt.Errorf("create: unknown kind %q", req.Kind)
	}
	defer func() { t.finish(req.Kind, "create", key, err) }()

	parentID, err := t.createParent(ctx, req)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		metrics.ReorderAttempt(string(req.Kind), "create")

		group, err := t.store.ListOrdered(ctx, req.Kind, parentID)
		if err != nil {
			return "", fmt.Errorf("list %s siblings: %w", req.Kind, err)
		}
		left, right, err := resolve(group, req.Placement, "")
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAnchor, err)
		}
		candidate, err := orderkey.Between(left, right)
		if err != nil {
			return "", keyError(ErrInvalidAnchor, err)
		}

		err = insert(ctx, candidate)
		if errors.Is(err, store.ErrKeyCollision) {
			t.collided(ctx, req.Kind, "create", candidate, attempt)
			continue
		}
		if err != nil {
			return "", err
		}
		return candidate, nil
	}

	t.exhausted(ctx, req.Kind, "create", req.Placement)
	return "", ErrConflict
}

func (t *Transaction) createParent(ctx context.Context, req CreateRequest) (string, error) {
	if req.Kind == store.KindColumn {
		if req.ParentID != "" && req.ParentID != req.BoardID {
			return "", fmt.Errorf("%w: columns belong to their board", ErrInvalidAnchor)
		}
		return req.BoardID, nil
	}
	parent, err := t.store.Lookup(ctx, store.KindColumn, req.ParentID)
	if err != nil {
		return "", err
	}
	if parent.BoardID != req.BoardID {
		return "", store.ErrNotFound
	}
	return parent.ID, nil
}

// Move relocates an existing item. A move that lands on the item's current
// key and parent still commits and bumps the version.
func (t *Transaction) Move(ctx context.Context, req MoveRequest) (moved store.Entry, err error) {
	if !req.Kind.Valid() {
		return store.Entry{}, fmt.Errorf("move: unknown kind %q", req.Kind)
	}
	defer func() { t.finish(req.Kind, "move", moved.Key, err) }()

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Entry{}, err
		}
		metrics.ReorderAttempt(string(req.Kind), "move")

		item, err := t.store.Lookup(ctx, req.Kind, req.ItemID)
		if err != nil {
			return store.Entry{}, err
		}
		if item.BoardID != req.BoardID {
			return store.Entry{}, fmt.Errorf("%w: %s %s is not on board %s", ErrInvalidMove, req.Kind, item.ID, req.BoardID)
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != item.Version {
			return store.Entry{}, fmt.Errorf("%w: %s %s is at version %d", ErrPreconditionFailed, req.Kind, item.ID, item.Version)
		}

		parentID, err := t.moveParent(ctx, req, item)
		if err != nil {
			return store.Entry{}, err
		}

		group, err := t.store.ListOrdered(ctx, req.Kind, parentID)
		if err != nil {
			return store.Entry{}, fmt.Errorf("list %s siblings: %w", req.Kind, err)
		}
		left, right, err := resolve(group, req.Placement, item.ID)
		if err != nil {
			return store.Entry{}, fmt.Errorf("%w: %v", ErrInvalidMove, err)
		}
		candidate, err := orderkey.Between(left, right)
		if err != nil {
			return store.Entry{}, keyError(ErrInvalidMove, err)
		}

		// Without a caller fence the version read above still guards the
		// write, so a concurrent move forces a fresh resolve.
		fence, callerFence := req.ExpectedVersion, true
		if fence == nil {
			v := item.Version
			fence, callerFence = &v, false
		}

		moved, err = t.store.UpdateKey(ctx, req.Kind, store.KeyUpdate{
			ID:              item.ID,
			ParentID:        parentID,
			Key:             candidate,
			ExpectedVersion: fence,
		})
		switch {
		case err == nil:
			return moved, nil
		case errors.Is(err, store.ErrKeyCollision):
			t.collided(ctx, req.Kind, "move", candidate, attempt)
			continue
		case errors.Is(err, store.ErrVersionMismatch):
			if callerFence {
				return store.Entry{}, fmt.Errorf("%w: %s %s changed concurrently", ErrPreconditionFailed, req.Kind, item.ID)
			}
			t.logger.DebugContext(ctx, "item changed during move, retrying",
				"kind", req.Kind, "id", item.ID, "attempt", attempt)
			continue
		default:
			return store.Entry{}, err
		}
	}

	t.exhausted(ctx, req.Kind, "move", req.Placement)
	return store.Entry{}, ErrConflict
}

func (t *Transaction) moveParent(ctx context.Context, req MoveRequest, item store.Entry) (string, error) {
	target := req.TargetParentID
	if target == "" || target == item.ParentID {
		return item.ParentID, nil
	}
	if req.Kind == store.KindColumn {
		return "", fmt.Errorf("%w: columns cannot change board", ErrInvalidMove)
	}
	parent, err := t.store.Lookup(ctx, store.KindColumn, target)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: target column %s does not exist", ErrInvalidMove, target)
	}
	if err != nil {
		return "", err
	}
	if parent.BoardID != item.BoardID {
		return "", fmt.Errorf("%w: target column %s is on another board", ErrInvalidMove, target)
	}
	return parent.ID, nil
}

// keyError maps a failed key computation onto the operation's error. A
// malformed stored key is a data error and keeps its own identity.
func keyError(opErr, err error) error {
	if errors.Is(err, orderkey.ErrInvalidKey) {
		return fmt.Errorf("compute order key: %w", err)
	}
	return fmt.Errorf("%w: %w", opErr, err)
}

func (t *Transaction) collided(ctx context.Context, kind store.Kind, op string, key orderkey.Key, attempt int) {
	metrics.ReorderCollision(string(kind), op)
	t.logger.DebugContext(ctx, "order key collision, retrying",
		"kind", kind, "op", op, "key", key.String(), "attempt", attempt)
}

func (t *Transaction) exhausted(ctx context.Context, kind store.Kind, op string, p Placement) {
	t.logger.WarnContext(ctx, "order key retries exhausted",
		"kind", kind, "op", op, "placement", p.String(), "attempts", t.maxAttempts)
}

func (t *Transaction) finish(kind store.Kind, op string, key orderkey.Key, err error) {
	metrics.ReorderOutcome(string(kind), op, outcome(err))
	if err == nil {
		metrics.ReorderKeyLength(string(kind), len(key))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAnchor):
		return "invalid_anchor"
	case errors.Is(err, ErrInvalidMove):
		return "invalid_move"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
