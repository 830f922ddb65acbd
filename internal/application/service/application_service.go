package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/garyjia/crm-workflow/internal/application/dispatcher"
	"github.com/garyjia/crm-workflow/internal/application/history"
	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/event"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
	"github.com/garyjia/crm-workflow/pkg/utils"
)

// DocumentInput declares a document slot on a new application
type DocumentInput struct {
	Name        string `json:"name"`
	IsMandatory bool   `json:"is_mandatory"`
}

// Validate implements validation.Validatable
func (d DocumentInput) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Length(1, 120)),
	)
}

// CreateApplicationInput is the payload of CreateDraft
type CreateApplicationInput struct {
	Title     string          `json:"title"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Documents []DocumentInput `json:"documents"`
}

// Validate checks the title and rejects duplicate document names
func (in CreateApplicationInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(3, 200)),
		validation.Field(&in.Documents),
	)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(in.Documents))
	for _, d := range in.Documents {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if seen[key] {
			return validation.Errors{
				"documents": validation.NewError("application.documents.duplicate", fmt.Sprintf("document %q is listed twice", d.Name)),
			}
		}
		seen[key] = true
	}
	return nil
}

// ApplicationService manages applications outside of status transitions
type ApplicationService interface {
	CreateDraft(ctx context.Context, actor workflow.Actor, in CreateApplicationInput) (*entity.Application, error)
	Get(ctx context.Context, actor workflow.Actor, id string) (*entity.Application, error)
	List(ctx context.Context, actor workflow.Actor, filter port.ApplicationFilter) ([]*entity.Application, error)
	MarkDocumentUploaded(ctx context.Context, actor workflow.Actor, applicationID, documentID, filePath string) (*entity.Application, error)
	History(ctx context.Context, actor workflow.Actor, id string) (*history.Trail, error)
	ExportHistory(ctx context.Context, actor workflow.Actor, id string) ([]byte, string, error)
}

type applicationServiceImpl struct {
	apps      port.ApplicationRepository
	docs      port.DocumentRepository
	txManager port.TransactionManager
	recorder  *history.Recorder
	exporter  port.HistoryExporter
	bus       dispatcher.Dispatcher
	logger    Logger
}

// NewApplicationService creates a new ApplicationService. exporter and bus may be nil.
func NewApplicationService(
	apps port.ApplicationRepository,
	docs port.DocumentRepository,
	txManager port.TransactionManager,
	recorder *history.Recorder,
	exporter port.HistoryExporter,
	bus dispatcher.Dispatcher,
	logger Logger,
) ApplicationService {
	return &applicationServiceImpl{
		apps:      apps,
		docs:      docs,
		txManager: txManager,
		recorder:  recorder,
		exporter:  exporter,
		bus:       bus,
		logger:    logger,
	}
}

func (s *applicationServiceImpl) CreateDraft(ctx context.Context, actor workflow.Actor, in CreateApplicationInput) (*entity.Application, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ownerID := actor.ID
	if in.OwnerID != "" && in.OwnerID != actor.ID {
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("%w: only admins create applications for other users", workflow.ErrForbidden)
		}
		ownerID = in.OwnerID
	}

	now := time.Now().UTC()
	id := uuid.New()
	app := &entity.Application{
		ID:        id.String(),
		Reference: "APP-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]),
		Title:     utils.SanitizeString(in.Title),
		OwnerID:   ownerID,
		Status:    workflow.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, d := range in.Documents {
		app.Documents = append(app.Documents, entity.Document{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			Name:          strings.TrimSpace(d.Name),
			IsMandatory:   d.IsMandatory,
			CreatedAt:     now,
		})
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.apps.Create(txCtx, app); err != nil {
			return err
		}
		for i := range app.Documents {
			if err := s.docs.Create(txCtx, &app.Documents[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create application", "error", err, "owner_id", ownerID)
		return nil, fmt.Errorf("%w: create application: %w", workflow.ErrPersistence, err)
	}

	s.logger.Info("Application created", "application_id", app.ID, "reference", app.Reference, "owner_id", ownerID)
	s.publish(ctx, event.TypeApplicationCreated, app.ID, map[string]interface{}{"owner_id": ownerID})
	return app, nil
}

func (s *applicationServiceImpl) Get(ctx context.Context, actor workflow.Actor, id string) (*entity.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get application: %w", workflow.ErrPersistence, err)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: application %s", workflow.ErrNotFound, id)
	}
	if !actor.IsAdmin() && !app.IsOwnedBy(actor.ID) {
		return nil, fmt.Errorf("%w: application %s", workflow.ErrForbidden, id)
	}

	docs, err := s.docs.ListByApplication(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", workflow.ErrPersistence, err)
	}
	app.Documents = docs
	return app, nil
}

// List restricts non-admins to their own applications
func (s *applicationServiceImpl) List(ctx context.Context, actor workflow.Actor, filter port.ApplicationFilter) ([]*entity.Application, error) {
	if !actor.IsAdmin() {
		filter.OwnerID = actor.ID
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", workflow.ErrInvalidStatus, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	apps, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list applications: %w", workflow.ErrPersistence, err)
	}
	return apps, nil
}

func (s *applicationServiceImpl) MarkDocumentUploaded(ctx context.Context, actor workflow.Actor, applicationID, documentID, filePath string) (*entity.Application, error) {
	app, err := s.Get(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}

	ok, err := s.docs.MarkUploaded(ctx, applicationID, documentID, filePath, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to mark document uploaded", "error", err, "document_id", documentID)
		return nil, fmt.Errorf("%w: mark document: %w", workflow.ErrPersistence, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: document %s", workflow.ErrNotFound, documentID)
	}

	s.logger.Info("Document uploaded", "application_id", app.ID, "document_id", documentID)
	s.publish(ctx, event.TypeDocumentUploaded, app.ID, map[string]interface{}{"document_id": documentID})
	return s.Get(ctx, actor, applicationID)
}

func (s *applicationServiceImpl) History(ctx context.Context, actor workflow.Actor, id string) (*history.Trail, error) {
	app, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.recorder.TrailFor(ctx, app)
}

// ExportHistory returns the trail as a spreadsheet and a file name for it
func (s *applicationServiceImpl) ExportHistory(ctx context.Context, actor workflow.Actor, id string) ([]byte, string, error) {
	if s.exporter == nil {
		return nil, "", fmt.Errorf("history export is not configured")
	}
	app, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}
	trail, err := s.recorder.TrailFor(ctx, app)
	if err != nil {
		return nil, "", err
	}

	data, err := s.exporter.Export(app, trail.Changes, trail.Warnings)
	if err != nil {
		s.logger.Error("Failed to export history", "error", err, "application_id", id)
		return nil, "", fmt.Errorf("export history: %w", err)
	}
	return data, fmt.Sprintf("%s-history.xlsx", app.Reference), nil
}

func (s *applicationServiceImpl) publish(ctx context.Context, t event.Type, applicationID string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.DispatchAsync(ctx, event.NewEvent(t, applicationID, payload))
}
