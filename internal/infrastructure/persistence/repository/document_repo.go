package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
)

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a document slot
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	query := `
		INSERT INTO application_documents (
			id, application_id, name, is_mandatory, is_uploaded,
			file_path, uploaded_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	doc.CreatedAt = nowIfZero(doc.CreatedAt)
	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		doc.ID,
		doc.ApplicationID,
		doc.Name,
		doc.IsMandatory,
		doc.IsUploaded,
		nullString(doc.FilePath),
		nullTime(doc.UploadedAt),
		doc.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create document",
			zap.String("application_id", doc.ApplicationID),
			zap.String("name", doc.Name),
			zap.Error(err))
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// ListByApplication returns documents in creation order
func (r *DocumentRepository) ListByApplication(ctx context.Context, applicationID string) ([]entity.Document, error) {
	query := `
		SELECT id, application_id, name, is_mandatory, is_uploaded,
			file_path, uploaded_at, created_at
		FROM application_documents
		WHERE application_id = ?
		ORDER BY created_at, rowid
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, applicationID)
	if err != nil {
		r.logger.Error("Failed to list documents",
			zap.String("application_id", applicationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []entity.Document
	for rows.Next() {
		var doc entity.Document
		var filePath sql.NullString
		var uploadedAt sql.NullTime
		if err := rows.Scan(
			&doc.ID,
			&doc.ApplicationID,
			&doc.Name,
			&doc.IsMandatory,
			&doc.IsUploaded,
			&filePath,
			&uploadedAt,
			&doc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.FilePath = filePath.String
		doc.UploadedAt = timePtr(uploadedAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MarkUploaded implements port.DocumentRepository
func (r *DocumentRepository) MarkUploaded(ctx context.Context, applicationID, documentID, filePath string, at time.Time) (bool, error) {
	query := `
		UPDATE application_documents
		SET is_uploaded = 1, file_path = ?, uploaded_at = ?
		WHERE id = ? AND application_id = ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, nullString(filePath), at.UTC(), documentID, applicationID)
	if err != nil {
		r.logger.Error("Failed to mark document uploaded",
			zap.String("document_id", documentID),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark document uploaded: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// Verify interface compliance
var _ port.DocumentRepository = (*DocumentRepository)(nil)
