package port

import (
	"context"
	"time"

	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// ApplicationFilter narrows application listings. Zero values match everything.
type ApplicationFilter struct {
	OwnerID string
	Status  workflow.Status
	Limit   int
	Offset  int
}

// ApplicationRepository defines persistence operations for Application.
// Get methods return nil, nil when the row does not exist.
type ApplicationRepository interface {
	Create(ctx context.Context, app *entity.Application) error
	GetByID(ctx context.Context, id string) (*entity.Application, error)
	List(ctx context.Context, filter ApplicationFilter) ([]*entity.Application, error)

	// CompareAndSetStatus moves the status only if it still equals expected.
	// It reports false when another writer got there first.
	CompareAndSetStatus(ctx context.Context, id string, expected, next workflow.Status, at time.Time) (bool, error)

	UpdateRisk(ctx context.Context, id string, score int, level string) error
}

// DocumentRepository defines persistence operations for Document
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	ListByApplication(ctx context.Context, applicationID string) ([]entity.Document, error)

	// MarkUploaded reports false when the document does not belong to the application
	MarkUploaded(ctx context.Context, applicationID, documentID, filePath string, at time.Time) (bool, error)
}

// StatusChangeRepository is the append-only store of transitions
type StatusChangeRepository interface {
	// Append inserts the change unless one with the same transition id exists.
	// It reports whether a row was written.
	Append(ctx context.Context, change *entity.StatusChange) (bool, error)
	GetByTransitionID(ctx context.Context, transitionID string) (*entity.StatusChange, error)

	// ListByApplication returns changes newest first
	ListByApplication(ctx context.Context, applicationID string) ([]*entity.StatusChange, error)
}

// NotificationRepository defines persistence operations for Notification
type NotificationRepository interface {
	// Create is idempotent on (transition id, recipient) and reports whether a row was written
	Create(ctx context.Context, n *entity.Notification) (bool, error)
	GetByID(ctx context.Context, id string) (*entity.Notification, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// ProfileRepository defines persistence operations for Profile
type ProfileRepository interface {
	Upsert(ctx context.Context, p *entity.Profile) error
	GetByID(ctx context.Context, id string) (*entity.Profile, error)
	ListActiveAdmins(ctx context.Context) ([]*entity.Profile, error)
}

// PendingTransitionRepository tracks follow-up progress of committed transitions.
// Update only ever sets progress flags and releases the claim.
type PendingTransitionRepository interface {
	Create(ctx context.Context, p *entity.PendingTransition) error
	GetByID(ctx context.Context, id string) (*entity.PendingTransition, error)
	Claim(ctx context.Context, id string, now, until time.Time) (bool, error)
	Update(ctx context.Context, p *entity.PendingTransition) error
	ListIncomplete(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.PendingTransition, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
