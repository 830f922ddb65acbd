package service

import (
	"context"
	"fmt"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
	"github.com/garyjia/crm-workflow/pkg/utils"
)

// ProfileService keeps profiles in step with authenticated callers
type ProfileService interface {
	Sync(ctx context.Context, actor workflow.Actor) error
	Get(ctx context.Context, id string) (*entity.Profile, error)
}

type profileServiceImpl struct {
	repo   port.ProfileRepository
	logger Logger
}

// NewProfileService creates a new ProfileService
func NewProfileService(repo port.ProfileRepository, logger Logger) ProfileService {
	return &profileServiceImpl{
		repo:   repo,
		logger: logger,
	}
}

// Sync upserts the actor as an active profile. Invalid emails are dropped.
func (s *profileServiceImpl) Sync(ctx context.Context, actor workflow.Actor) error {
	if actor.ID == "" || !actor.Role.IsValid() {
		return fmt.Errorf("%w: incomplete actor", workflow.ErrForbidden)
	}

	email := actor.Email
	if email != "" && utils.ValidateEmail(email) != nil {
		s.logger.Info("Ignoring invalid profile email", "user_id", actor.ID)
		email = ""
	}

	err := s.repo.Upsert(ctx, &entity.Profile{
		ID:     actor.ID,
		Name:   actor.DisplayName(),
		Email:  email,
		Role:   actor.Role,
		Active: true,
	})
	if err != nil {
		s.logger.Error("Failed to sync profile", "error", err, "user_id", actor.ID)
		return fmt.Errorf("%w: sync profile: %w", workflow.ErrPersistence, err)
	}
	return nil
}

func (s *profileServiceImpl) Get(ctx context.Context, id string) (*entity.Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %w", workflow.ErrPersistence, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: profile %s", workflow.ErrNotFound, id)
	}
	return p, nil
}
