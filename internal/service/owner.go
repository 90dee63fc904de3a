package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/personadesk/runstream/internal/domain"
)

// CreateOwner registers a new design owner.
func (s *Service) CreateOwner(ctx context.Context, name, designContext string) (*domain.Owner, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	owner := &domain.Owner{
		OwnerID:       "owner_" + uuid.New().String()[:8],
		Name:          name,
		DesignContext: designContext,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}
	return owner, nil
}

// GetOwner looks up an owner. Returns nil when the owner does not exist.
func (s *Service) GetOwner(ctx context.Context, ownerID string) (*domain.Owner, error) {
	return s.store.GetOwner(ctx, ownerID)
}
