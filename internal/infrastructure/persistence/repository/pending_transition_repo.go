package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
)

// PendingTransitionRepository implements port.PendingTransitionRepository
type PendingTransitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPendingTransitionRepository creates a new pending transition repository
func NewPendingTransitionRepository(db *sql.DB, logger *zap.Logger) *PendingTransitionRepository {
	return &PendingTransitionRepository{
		db:     db,
		logger: logger,
	}
}

const pendingColumns = `id, application_id, previous_status, new_status, actor_id, actor_role, actor_name,
	comment, override, history_done, notified_done, email_done, chat_done, attempts, last_error,
	created_at, completed_at, claimed_until`

// Create records a committed transition before its follow-ups run
func (r *PendingTransitionRepository) Create(ctx context.Context, p *entity.PendingTransition) error {
	query := `
		INSERT INTO pending_transitions (` + pendingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	p.CreatedAt = nowIfZero(p.CreatedAt)
	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		p.ID,
		p.ApplicationID,
		p.PreviousStatus,
		p.NewStatus,
		p.ActorID,
		p.ActorRole,
		nullString(p.ActorName),
		nullString(p.Comment),
		p.Override,
		p.HistoryDone,
		p.NotifiedDone,
		p.EmailDone,
		p.ChatDone,
		p.Attempts,
		nullString(p.LastError),
		p.CreatedAt,
		nullTime(p.CompletedAt),
		nullTime(p.ClaimedUntil),
	)
	if err != nil {
		r.logger.Error("Failed to create pending transition",
			zap.String("id", p.ID),
			zap.String("application_id", p.ApplicationID),
			zap.Error(err))
		return fmt.Errorf("failed to create pending transition: %w", err)
	}
	return nil
}

// GetByID returns nil, nil for unknown transitions
func (r *PendingTransitionRepository) GetByID(ctx context.Context, id string) (*entity.PendingTransition, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transitions WHERE id = ?`

	p, err := scanPending(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending transition",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get pending transition: %w", err)
	}
	return p, nil
}

// Claim takes the row for one follow-up run until the given time. It fails
// while another run holds an unexpired claim or once the row is complete.
func (r *PendingTransitionRepository) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	query := `
		UPDATE pending_transitions
		SET claimed_until = ?
		WHERE id = ? AND completed_at IS NULL
			AND (claimed_until IS NULL OR claimed_until < ?)
	`

	res, err := getExecutor(ctx, r.db).ExecContext(ctx, query, until.UTC(), id, now.UTC())
	if err != nil {
		r.logger.Error("Failed to claim pending transition",
			zap.String("id", id),
			zap.Error(err))
		return false, fmt.Errorf("failed to claim pending transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim pending transition: %w", err)
	}
	return n == 1, nil
}

// Update persists follow-up progress. Flags and completion are only ever
// set, so a run that failed a step cannot undo another run's success. The
// claim is released when it is still the one recorded on p.
func (r *PendingTransitionRepository) Update(ctx context.Context, p *entity.PendingTransition) error {
	query := `
		UPDATE pending_transitions
		SET history_done = history_done OR ?,
			notified_done = notified_done OR ?,
			email_done = email_done OR ?,
			chat_done = chat_done OR ?,
			attempts = MAX(attempts, ?),
			last_error = ?,
			completed_at = COALESCE(completed_at, ?),
			claimed_until = CASE WHEN claimed_until = ? THEN NULL ELSE claimed_until END
		WHERE id = ?
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		p.HistoryDone,
		p.NotifiedDone,
		p.EmailDone,
		p.ChatDone,
		p.Attempts,
		nullString(p.LastError),
		nullTime(p.CompletedAt),
		nullTime(p.ClaimedUntil),
		p.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update pending transition",
			zap.String("id", p.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update pending transition: %w", err)
	}
	return nil
}

// ListIncomplete returns unfinished transitions created before the cutoff, oldest first
func (r *PendingTransitionRepository) ListIncomplete(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.PendingTransition, error) {
	query := `
		SELECT ` + pendingColumns + `
		FROM pending_transitions
		WHERE completed_at IS NULL AND created_at <= ?
		ORDER BY created_at, rowid
		LIMIT ?
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, createdBefore.UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to list pending transitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending transitions: %w", err)
	}
	defer rows.Close()

	var list []*entity.PendingTransition
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending transition: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPending(row rowScanner) (*entity.PendingTransition, error) {
	var p entity.PendingTransition
	var actorName, comment, lastError sql.NullString
	var completedAt, claimedUntil sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.ApplicationID,
		&p.PreviousStatus,
		&p.NewStatus,
		&p.ActorID,
		&p.ActorRole,
		&actorName,
		&comment,
		&p.Override,
		&p.HistoryDone,
		&p.NotifiedDone,
		&p.EmailDone,
		&p.ChatDone,
		&p.Attempts,
		&lastError,
		&p.CreatedAt,
		&completedAt,
		&claimedUntil,
	)
	if err != nil {
		return nil, err
	}
	p.ActorName = actorName.String
	p.Comment = comment.String
	p.LastError = lastError.String
	p.CompletedAt = timePtr(completedAt)
	p.ClaimedUntil = timePtr(claimedUntil)
	return &p, nil
}

// Verify interface compliance
var _ port.PendingTransitionRepository = (*PendingTransitionRepository)(nil)
