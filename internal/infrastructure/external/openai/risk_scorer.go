package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
)

const riskToolName = "record_risk_assessment"

var riskToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score": {"type": "integer", "minimum": 0, "maximum": 100},
		"level": {"type": "string", "enum": ["low", "medium", "high"]},
		"reasons": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["score", "level", "reasons"]
}`)

// Config holds the OpenAI connection settings
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // Optional, for proxies and tests
}

// RiskScorer implements port.RiskScorer using an OpenAI tool call
type RiskScorer struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewRiskScorer creates a new OpenAI risk scorer
func NewRiskScorer(cfg Config, prompts *PromptConfig, logger *zap.Logger) *RiskScorer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &RiskScorer{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

type promptData struct {
	Reference string
	Title     string
	Status    string
	Documents []entity.Document
	Missing   []string
}

// Score asks the model for a structured risk assessment of app
func (s *RiskScorer) Score(ctx context.Context, app *entity.Application) (*port.RiskAssessment, error) {
	p := s.prompts.RiskAssessment
	userPrompt, err := renderTemplate(p.UserTemplate, promptData{
		Reference: app.Reference,
		Title:     app.Title,
		Status:    app.Status.String(),
		Documents: app.Documents,
		Missing:   app.MissingMandatory(),
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        riskToolName,
				Description: "Record the risk assessment of the application",
				Parameters:  riskToolSchema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: riskToolName},
		},
	})
	if err != nil {
		s.logger.Error("OpenAI API call failed",
			zap.String("application_id", app.ID),
			zap.Error(err))
		return nil, mapAPIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	var args string
	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name == riskToolName {
			args = call.Function.Arguments
			break
		}
	}
	if args == "" {
		return nil, fmt.Errorf("OpenAI response has no %s call", riskToolName)
	}

	var result port.RiskAssessment
	if err := json.Unmarshal([]byte(args), &result); err != nil {
		s.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("arguments", args))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	normalize(&result)

	s.logger.Info("Risk assessment completed",
		zap.String("application_id", app.ID),
		zap.Int("score", result.Score),
		zap.String("level", result.Level))

	return &result, nil
}

// normalize clamps the score and derives the level when the model returns an unknown one
func normalize(r *port.RiskAssessment) {
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 100 {
		r.Score = 100
	}
	switch r.Level {
	case port.RiskLow, port.RiskMedium, port.RiskHigh:
	default:
		r.Level = LevelFor(r.Score)
	}
}

// LevelFor buckets a 0-100 score
func LevelFor(score int) string {
	switch {
	case score < 34:
		return port.RiskLow
	case score < 67:
		return port.RiskMedium
	default:
		return port.RiskHigh
	}
}

func mapAPIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", port.ErrRateLimited, err)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", port.ErrPaymentRequired, err)
	default:
		return fmt.Errorf("OpenAI API call failed: %w", err)
	}
}

// Verify interface compliance
var _ port.RiskScorer = (*RiskScorer)(nil)
