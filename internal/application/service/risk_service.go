package service

import (
	"context"
	"fmt"

	"github.com/garyjia/crm-workflow/internal/application/dispatcher"
	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/event"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// RiskService runs AI risk scoring for applications under review
type RiskService interface {
	ScoreApplication(ctx context.Context, actor workflow.Actor, id string) (*port.RiskAssessment, error)

	// HandleStatusChanged scores applications that were just submitted
	HandleStatusChanged(ctx context.Context, evt *event.Event) error
}

type riskServiceImpl struct {
	apps   port.ApplicationRepository
	docs   port.DocumentRepository
	scorer port.RiskScorer
	bus    dispatcher.Dispatcher
	logger Logger
}

// NewRiskService creates a new RiskService. bus may be nil.
func NewRiskService(
	apps port.ApplicationRepository,
	docs port.DocumentRepository,
	scorer port.RiskScorer,
	bus dispatcher.Dispatcher,
	logger Logger,
) RiskService {
	return &riskServiceImpl{
		apps:   apps,
		docs:   docs,
		scorer: scorer,
		bus:    bus,
		logger: logger,
	}
}

func (s *riskServiceImpl) ScoreApplication(ctx context.Context, actor workflow.Actor, id string) (*port.RiskAssessment, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: risk scoring is admin only", workflow.ErrForbidden)
	}
	return s.score(ctx, id)
}

func (s *riskServiceImpl) HandleStatusChanged(ctx context.Context, evt *event.Event) error {
	if workflow.Status(evt.GetPayloadString(event.KeyNewStatus)) != workflow.StatusSubmitted {
		return nil
	}
	_, err := s.score(ctx, evt.ApplicationID)
	return err
}

func (s *riskServiceImpl) score(ctx context.Context, id string) (*port.RiskAssessment, error) {
	app, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	assessment, err := s.scorer.Score(ctx, app)
	if err != nil {
		s.logger.Error("Risk scoring failed", "error", err, "application_id", id)
		return nil, fmt.Errorf("score application %s: %w", id, err)
	}

	if err := s.apps.UpdateRisk(ctx, id, assessment.Score, assessment.Level); err != nil {
		s.logger.Error("Failed to store risk score", "error", err, "application_id", id)
		return nil, fmt.Errorf("%w: update risk: %w", workflow.ErrPersistence, err)
	}

	s.logger.Info("Application risk scored", "application_id", id, "score", assessment.Score, "level", assessment.Level)
	if s.bus != nil {
		s.bus.DispatchAsync(ctx, event.NewEvent(event.TypeRiskScored, id, map[string]interface{}{
			"score": assessment.Score,
			"level": assessment.Level,
		}))
	}
	return assessment, nil
}

func (s *riskServiceImpl) load(ctx context.Context, id string) (*entity.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get application: %w", workflow.ErrPersistence, err)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: application %s", workflow.ErrNotFound, id)
	}
	docs, err := s.docs.ListByApplication(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", workflow.ErrPersistence, err)
	}
	app.Documents = docs
	return app, nil
}
