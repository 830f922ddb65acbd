package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// ProfileRepository implements port.ProfileRepository
type ProfileRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sql.DB, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts the profile or refreshes its name, email, role and active flag
func (r *ProfileRepository) Upsert(ctx context.Context, p *entity.Profile) error {
	query := `
		INSERT INTO profiles (id, name, email, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			active = excluded.active
	`

	p.CreatedAt = nowIfZero(p.CreatedAt)
	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		p.ID, p.Name, nullString(p.Email), p.Role, p.Active, p.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert profile",
			zap.String("id", p.ID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	query := `SELECT id, name, email, role, active, created_at FROM profiles WHERE id = ?`

	p, err := scanProfile(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get profile",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ListActiveAdmins returns every active admin ordered by ID
func (r *ProfileRepository) ListActiveAdmins(ctx context.Context) ([]*entity.Profile, error) {
	query := `
		SELECT id, name, email, role, active, created_at
		FROM profiles
		WHERE role = ? AND active = 1
		ORDER BY id
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, workflow.RoleAdmin)
	if err != nil {
		r.logger.Error("Failed to list admins", zap.Error(err))
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var admins []*entity.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		admins = append(admins, p)
	}
	return admins, rows.Err()
}

func scanProfile(row rowScanner) (*entity.Profile, error) {
	var p entity.Profile
	var email sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &email, &p.Role, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Email = email.String
	return &p, nil
}

// Verify interface compliance
var _ port.ProfileRepository = (*ProfileRepository)(nil)
