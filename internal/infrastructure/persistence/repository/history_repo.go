package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
)

// HistoryRepository implements port.StatusChangeRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

const statusChangeColumns = `id, transition_id, application_id, previous_status, new_status,
	changed_by, changed_by_role, comment, created_at`

// Append inserts the change unless its transition id is already recorded
func (r *HistoryRepository) Append(ctx context.Context, change *entity.StatusChange) (bool, error) {
	query := `
		INSERT INTO status_changes (` + statusChangeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transition_id) DO NOTHING
	`

	change.CreatedAt = nowIfZero(change.CreatedAt)
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		change.ID,
		change.TransitionID,
		change.ApplicationID,
		change.PreviousStatus,
		change.NewStatus,
		change.ChangedBy,
		change.ChangedByRole,
		nullString(change.Comment),
		change.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append status change",
			zap.String("transition_id", change.TransitionID),
			zap.Error(err))
		return false, fmt.Errorf("failed to append status change: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// GetByTransitionID returns nil, nil when nothing was recorded for the transition
func (r *HistoryRepository) GetByTransitionID(ctx context.Context, transitionID string) (*entity.StatusChange, error) {
	query := `SELECT ` + statusChangeColumns + ` FROM status_changes WHERE transition_id = ?`

	change, err := scanStatusChange(getExecutor(ctx, r.db).QueryRowContext(ctx, query, transitionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get status change",
			zap.String("transition_id", transitionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get status change: %w", err)
	}
	return change, nil
}

// ListByApplication returns changes newest first
func (r *HistoryRepository) ListByApplication(ctx context.Context, applicationID string) ([]*entity.StatusChange, error) {
	query := `
		SELECT ` + statusChangeColumns + `
		FROM status_changes
		WHERE application_id = ?
		ORDER BY created_at DESC, rowid DESC
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, applicationID)
	if err != nil {
		r.logger.Error("Failed to list status changes",
			zap.String("application_id", applicationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list status changes: %w", err)
	}
	defer rows.Close()

	var changes []*entity.StatusChange
	for rows.Next() {
		change, err := scanStatusChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func scanStatusChange(row rowScanner) (*entity.StatusChange, error) {
	var change entity.StatusChange
	var comment sql.NullString
	err := row.Scan(
		&change.ID,
		&change.TransitionID,
		&change.ApplicationID,
		&change.PreviousStatus,
		&change.NewStatus,
		&change.ChangedBy,
		&change.ChangedByRole,
		&comment,
		&change.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	change.Comment = comment.String
	return &change, nil
}

// Verify interface compliance
var _ port.StatusChangeRepository = (*HistoryRepository)(nil)
