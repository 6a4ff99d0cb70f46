package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

func (s *Service) ListMembers(ctx context.Context, caller Caller, boardID string) (map[string]any, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListMemberships(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, membershipPayload(m))
	}
	return map[string]any{"items": items}, nil
}

// InviteMember adds userID as an active member, or records an invitation
// for email with a pending membership keyed by the address. Pending
// memberships grant nothing until accepted elsewhere. An existing
// membership is returned unchanged and no invitation is recorded for it.
func (s *Service) InviteMember(ctx context.Context, caller Caller, boardID string, input InviteMemberInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, caller, boardID, rbac.ActionManageMembers); err != nil {
		return nil, err
	}
	input.Role = strings.ToLower(strings.TrimSpace(input.Role))
	input.UserID = strings.TrimSpace(input.UserID)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	role, err := rbac.ParseRole(input.Role)
	if err != nil {
		return nil, validationError("invalid role", map[string]string{"role": "oneof"})
	}

	switch {
	case input.UserID != "":
		membership, err := s.store.AddMembership(ctx, store.Membership{
			BoardID:   boardID,
			UserID:    input.UserID,
			Role:      role,
			Status:    rbac.StatusActive,
			InvitedBy: caller.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("add member: %w", err)
		}
		return map[string]any{"membership": membershipPayload(membership)}, nil

	case input.Email != "":
		existing, err := s.store.GetMembership(ctx, boardID, input.Email)
		if err == nil {
			return map[string]any{"membership": membershipPayload(existing)}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup member: %w", err)
		}
		invitation, err := s.store.InsertInvitation(ctx, store.Invitation{
			ID:      util.NewID("inv"),
			BoardID: boardID,
			Email:   input.Email,
			Role:    role,
			Status:  store.InvitationPending,
			Token:   util.NewToken(),
		})
		if err != nil {
			return nil, fmt.Errorf("create invitation: %w", err)
		}
		membership, err := s.store.AddMembership(ctx, store.Membership{
			BoardID:   boardID,
			UserID:    input.Email,
			Role:      role,
			Status:    rbac.StatusPending,
			InvitedBy: caller.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("add pending member: %w", err)
		}
		s.logger.InfoContext(ctx, "member invited", "board_id", boardID, "invitation_id", invitation.ID, "role", role)
		return map[string]any{
			"membership": membershipPayload(membership),
			"invitation": map[string]any{
				"id":      invitation.ID,
				"boardId": invitation.BoardID,
				"email":   invitation.Email,
				"role":    invitation.Role,
				"status":  invitation.Status,
				"token":   invitation.Token,
			},
		}, nil
	}
	return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email or userId required", nil)
}
