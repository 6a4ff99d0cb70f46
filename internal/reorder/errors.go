package reorder

import "errors"

var (
	// ErrInvalidAnchor reports a create whose anchors do not resolve in the
	// target group.
	ErrInvalidAnchor = errors.New("invalid anchor")
	// ErrInvalidMove reports a move that breaks a placement or cross-parent
	// rule.
	ErrInvalidMove        = errors.New("invalid move")
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict reports that every attempt lost a key race.
	ErrConflict = errors.New("conflict: order key retries exhausted")
)
