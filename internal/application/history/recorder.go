// Package history keeps the append-only audit trail of status transitions.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Entry is the input of Append
type Entry struct {
	TransitionID   string
	ApplicationID  string
	PreviousStatus workflow.Status
	NewStatus      workflow.Status
	ActorID        string
	ActorRole      workflow.Role
	Comment        string
	At             time.Time
}

// Trail is an application's history plus any consistency warnings
type Trail struct {
	Changes  []*entity.StatusChange `json:"changes"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Recorder appends and reads status changes
type Recorder struct {
	repo   port.StatusChangeRepository
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Recorder
type Option func(*Recorder)

// WithClock overrides the time source used for records without a timestamp
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a new history recorder
func NewRecorder(repo port.StatusChangeRepository, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append writes one record per transition id. Replaying the same transition
// returns the record that is already stored.
func (r *Recorder) Append(ctx context.Context, e Entry) (*entity.StatusChange, error) {
	if e.TransitionID == "" {
		e.TransitionID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = r.now()
	}

	change := &entity.StatusChange{
		ID:             uuid.NewString(),
		TransitionID:   e.TransitionID,
		ApplicationID:  e.ApplicationID,
		PreviousStatus: e.PreviousStatus,
		NewStatus:      e.NewStatus,
		ChangedBy:      e.ActorID,
		ChangedByRole:  e.ActorRole,
		Comment:        e.Comment,
		CreatedAt:      e.At.UTC(),
	}

	created, err := r.repo.Append(ctx, change)
	if err != nil {
		return nil, fmt.Errorf("%w: append status change: %w", workflow.ErrPersistence, err)
	}
	if created {
		return change, nil
	}

	existing, err := r.repo.GetByTransitionID(ctx, e.TransitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load status change: %w", workflow.ErrPersistence, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: status change %s vanished after duplicate insert", workflow.ErrPersistence, e.TransitionID)
	}

	r.logger.Info("Status change already recorded",
		zap.String("transition_id", e.TransitionID),
		zap.String("application_id", e.ApplicationID))
	return existing, nil
}

// ListFor returns the application's changes newest first
func (r *Recorder) ListFor(ctx context.Context, applicationID string) ([]*entity.StatusChange, error) {
	changes, err := r.repo.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list status changes: %w", workflow.ErrPersistence, err)
	}
	return changes, nil
}

// TrailFor loads the history of app and validates it against the current status
func (r *Recorder) TrailFor(ctx context.Context, app *entity.Application) (*Trail, error) {
	changes, err := r.ListFor(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	warnings := ValidateChain(changes)
	warnings = append(warnings, CheckConsistency(app, changes)...)
	for _, w := range warnings {
		r.logger.Warn("History inconsistency",
			zap.String("application_id", app.ID),
			zap.String("warning", w))
	}

	return &Trail{Changes: changes, Warnings: warnings}, nil
}

// ValidateChain walks newest-first changes from oldest to newest and reports
// every link whose previous status does not match the prior new status.
func ValidateChain(newestFirst []*entity.StatusChange) []string {
	var warnings []string
	for i := len(newestFirst) - 1; i > 0; i-- {
		older, newer := newestFirst[i], newestFirst[i-1]
		if older.NewStatus != newer.PreviousStatus {
			warnings = append(warnings, fmt.Sprintf(
				"broken chain at %s: expected previous status %q, got %q",
				newer.TransitionID, older.NewStatus, newer.PreviousStatus))
		}
	}
	return warnings
}

// CheckConsistency compares the current status with the newest change
func CheckConsistency(app *entity.Application, newestFirst []*entity.StatusChange) []string {
	if len(newestFirst) == 0 {
		if app.Status != workflow.StatusDraft {
			return []string{fmt.Sprintf("status %q has no recorded transition", app.Status)}
		}
		return nil
	}
	if latest := newestFirst[0]; latest.NewStatus != app.Status {
		return []string{fmt.Sprintf("status %q differs from latest recorded %q", app.Status, latest.NewStatus)}
	}
	return nil
}
