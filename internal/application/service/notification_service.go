package service

import (
	"context"
	"fmt"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// NotificationService exposes a user's in-app notifications
type NotificationService interface {
	ListForUser(ctx context.Context, actor workflow.Actor, unreadOnly bool, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, actor workflow.Actor, id string) error
}

type notificationServiceImpl struct {
	repo   port.NotificationRepository
	logger Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(repo port.NotificationRepository, logger Logger) NotificationService {
	return &notificationServiceImpl{
		repo:   repo,
		logger: logger,
	}
}

func (s *notificationServiceImpl) ListForUser(ctx context.Context, actor workflow.Actor, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.repo.ListByUser(ctx, actor.ID, unreadOnly, limit)
	if err != nil {
		s.logger.Error("Failed to list notifications", "error", err, "user_id", actor.ID)
		return nil, fmt.Errorf("%w: list notifications: %w", workflow.ErrPersistence, err)
	}
	return list, nil
}

// MarkRead is idempotent. Only the recipient may mark a notification.
func (s *notificationServiceImpl) MarkRead(ctx context.Context, actor workflow.Actor, id string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: get notification: %w", workflow.ErrPersistence, err)
	}
	if n == nil {
		return fmt.Errorf("%w: notification %s", workflow.ErrNotFound, id)
	}
	if n.UserID != actor.ID {
		return fmt.Errorf("%w: notification %s", workflow.ErrForbidden, id)
	}
	if n.IsRead {
		return nil
	}

	if err := s.repo.MarkRead(ctx, id); err != nil {
		s.logger.Error("Failed to mark notification read", "error", err, "notification_id", id)
		return fmt.Errorf("%w: mark notification: %w", workflow.ErrPersistence, err)
	}
	return nil
}
