package port

import (
	"context"
	"errors"

	"github.com/garyjia/crm-workflow/internal/domain/entity"
)

// EmailMessage is what the email collaborator accepts
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// EmailSender delivers transactional email
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// ChatNotifier posts short text messages to the operations team chat
type ChatNotifier interface {
	Post(ctx context.Context, text string) error
}

// Risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskAssessment is the structured result of AI risk scoring
type RiskAssessment struct {
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Reasons []string `json:"reasons"`
}

var (
	// ErrRateLimited is returned when the AI service answers 429
	ErrRateLimited = errors.New("ai service rate limited")

	// ErrPaymentRequired is returned when the AI service answers 402
	ErrPaymentRequired = errors.New("ai service payment required")
)

// RiskScorer scores an application for review priority
type RiskScorer interface {
	Score(ctx context.Context, app *entity.Application) (*RiskAssessment, error)
}

// HistoryExporter renders an audit trail as a spreadsheet
type HistoryExporter interface {
	Export(app *entity.Application, changes []*entity.StatusChange, warnings []string) ([]byte, error)
}
