package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// ApplicationRepository implements port.ApplicationRepository
type ApplicationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *sql.DB, logger *zap.Logger) *ApplicationRepository {
	return &ApplicationRepository{
		db:     db,
		logger: logger,
	}
}

const applicationColumns = `id, reference, title, owner_id, status, risk_score, risk_level, created_at, updated_at`

// Create inserts a new application. Documents are stored separately.
func (r *ApplicationRepository) Create(ctx context.Context, app *entity.Application) error {
	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	app.CreatedAt = nowIfZero(app.CreatedAt)
	app.UpdatedAt = nowIfZero(app.UpdatedAt)

	var score sql.NullInt64
	if app.RiskScore != nil {
		score = sql.NullInt64{Int64: int64(*app.RiskScore), Valid: true}
	}

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		app.ID,
		app.Reference,
		app.Title,
		app.OwnerID,
		app.Status,
		score,
		nullString(app.RiskLevel),
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create application",
			zap.String("id", app.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

// GetByID retrieves an application without its documents
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = ?`

	app, err := scanApplication(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get application",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

// List returns applications newest first
func (r *ApplicationRepository) List(ctx context.Context, filter port.ApplicationFilter) ([]*entity.Application, error) {
	var where []string
	var args []interface{}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list applications", zap.Error(err))
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*entity.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// CompareAndSetStatus implements port.ApplicationRepository
func (r *ApplicationRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next workflow.Status, at time.Time) (bool, error) {
	query := `UPDATE applications SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, next, at.UTC(), id, expected)
	if err != nil {
		r.logger.Error("Failed to update application status",
			zap.String("id", id),
			zap.String("expected", expected.String()),
			zap.String("next", next.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to update status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateRisk stores the latest AI risk assessment
func (r *ApplicationRepository) UpdateRisk(ctx context.Context, id string, score int, level string) error {
	query := `UPDATE applications SET risk_score = ?, risk_level = ?, updated_at = ? WHERE id = ?`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, score, level, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update risk score",
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update risk: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*entity.Application, error) {
	var app entity.Application
	var score sql.NullInt64
	var level sql.NullString

	err := row.Scan(
		&app.ID,
		&app.Reference,
		&app.Title,
		&app.OwnerID,
		&app.Status,
		&score,
		&level,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if score.Valid {
		v := int(score.Int64)
		app.RiskScore = &v
	}
	app.RiskLevel = level.String
	return &app, nil
}

// Verify interface compliance
var _ port.ApplicationRepository = (*ApplicationRepository)(nil)
