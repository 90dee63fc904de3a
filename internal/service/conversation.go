package service

import (
	"context"
	"fmt"

	"github.com/personadesk/runstream/internal/domain"
)

// ListConversations returns the owner's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	return s.store.ListConversations(ctx, ownerID)
}

// ActiveConversation returns the owner's active conversation, or nil.
func (s *Service) ActiveConversation(ctx context.Context, ownerID string) (*domain.Conversation, error) {
	return s.ledger(ownerID).Active(ctx)
}

// ResumeConversation reactivates a past conversation so new design runs
// append to it. A different active conversation is abandoned first.
func (s *Service) ResumeConversation(ctx context.Context, ownerID, convID string) (*domain.Conversation, error) {
	return s.ledger(ownerID).Resume(ctx, convID)
}

// CompleteConversation marks the owner's active conversation completed.
func (s *Service) CompleteConversation(ctx context.Context, ownerID string) error {
	return s.ledger(ownerID).Complete(ctx)
}

// DeleteConversation removes a stored conversation. The active one
// cannot be deleted; complete or abandon it first.
func (s *Service) DeleteConversation(ctx context.Context, ownerID, convID string) error {
	active, err := s.ledger(ownerID).Active(ctx)
	if err != nil {
		return fmt.Errorf("failed to check active conversation: %w", err)
	}
	if active != nil && active.ID == convID {
		return fmt.Errorf("cannot delete the active conversation")
	}
	return s.store.DeleteConversation(ctx, convID)
}
