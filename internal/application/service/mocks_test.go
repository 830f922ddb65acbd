package service

import (
	"context"
	"time"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockApplicationRepo struct {
	createFunc     func(ctx context.Context, app *entity.Application) error
	getByIDFunc    func(ctx context.Context, id string) (*entity.Application, error)
	listFunc       func(ctx context.Context, filter port.ApplicationFilter) ([]*entity.Application, error)
	updateRiskFunc func(ctx context.Context, id string, score int, level string) error
}

func (m *mockApplicationRepo) Create(ctx context.Context, app *entity.Application) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, app)
	}
	return nil
}

func (m *mockApplicationRepo) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockApplicationRepo) List(ctx context.Context, filter port.ApplicationFilter) ([]*entity.Application, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, filter)
	}
	return nil, nil
}

func (m *mockApplicationRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next workflow.Status, at time.Time) (bool, error) {
	return false, nil
}

func (m *mockApplicationRepo) UpdateRisk(ctx context.Context, id string, score int, level string) error {
	if m.updateRiskFunc != nil {
		return m.updateRiskFunc(ctx, id, score, level)
	}
	return nil
}

type mockDocumentRepo struct {
	createFunc       func(ctx context.Context, doc *entity.Document) error
	listFunc         func(ctx context.Context, applicationID string) ([]entity.Document, error)
	markUploadedFunc func(ctx context.Context, applicationID, documentID, filePath string, at time.Time) (bool, error)
}

func (m *mockDocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, doc)
	}
	return nil
}

func (m *mockDocumentRepo) ListByApplication(ctx context.Context, applicationID string) ([]entity.Document, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, applicationID)
	}
	return nil, nil
}

func (m *mockDocumentRepo) MarkUploaded(ctx context.Context, applicationID, documentID, filePath string, at time.Time) (bool, error) {
	if m.markUploadedFunc != nil {
		return m.markUploadedFunc(ctx, applicationID, documentID, filePath, at)
	}
	return true, nil
}

type mockStatusChangeRepo struct {
	changes []*entity.StatusChange
}

func (m *mockStatusChangeRepo) Append(ctx context.Context, change *entity.StatusChange) (bool, error) {
	m.changes = append([]*entity.StatusChange{change}, m.changes...)
	return true, nil
}

func (m *mockStatusChangeRepo) GetByTransitionID(ctx context.Context, transitionID string) (*entity.StatusChange, error) {
	return nil, nil
}

func (m *mockStatusChangeRepo) ListByApplication(ctx context.Context, applicationID string) ([]*entity.StatusChange, error) {
	return m.changes, nil
}

type mockNotificationRepo struct {
	getByIDFunc  func(ctx context.Context, id string) (*entity.Notification, error)
	listFunc     func(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error)
	markReadFunc func(ctx context.Context, id string) error
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *entity.Notification) (bool, error) {
	return true, nil
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID, unreadOnly, limit)
	}
	return nil, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string) error {
	if m.markReadFunc != nil {
		return m.markReadFunc(ctx, id)
	}
	return nil
}

type mockTxManager struct {
	err error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.err != nil {
		return m.err
	}
	return fn(ctx)
}

type mockExporter struct {
	gotChanges int
}

func (m *mockExporter) Export(app *entity.Application, changes []*entity.StatusChange, warnings []string) ([]byte, error) {
	m.gotChanges = len(changes)
	return []byte("xlsx"), nil
}

type mockScorer struct {
	result *port.RiskAssessment
	err    error
	calls  int
}

func (m *mockScorer) Score(ctx context.Context, app *entity.Application) (*port.RiskAssessment, error) {
	m.calls++
	return m.result, m.err
}

type mockProfileRepo struct {
	profiles map[string]*entity.Profile
	err      error
}

func (m *mockProfileRepo) Upsert(ctx context.Context, p *entity.Profile) error {
	if m.err != nil {
		return m.err
	}
	if m.profiles == nil {
		m.profiles = make(map[string]*entity.Profile)
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *mockProfileRepo) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	return m.profiles[id], nil
}

func (m *mockProfileRepo) ListActiveAdmins(ctx context.Context) ([]*entity.Profile, error) {
	return nil, nil
}
