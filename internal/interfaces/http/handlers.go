package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/application/service"
	appwf "github.com/garyjia/crm-workflow/internal/application/workflow"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		health:   health,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// ListApplicationsRequest represents query parameters for listing applications
type ListApplicationsRequest struct {
	Status  string `form:"status"`
	OwnerID string `form:"owner_id"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// TransitionRequest is the body of transition and override requests
type TransitionRequest struct {
	TargetStatus string `json:"target_status" binding:"required"`
	Comment      string `json:"comment"`
}

// UploadRequest is the optional body of a document upload
type UploadRequest struct {
	FilePath string `json:"file_path"`
}

// TransitionResponse is an Outcome plus its degraded flag
type TransitionResponse struct {
	*appwf.Outcome
	Degraded bool `json:"degraded"`
}

// PreviewResponse describes one target the caller could request
type PreviewResponse struct {
	Target           workflow.Status `json:"target"`
	Allowed          bool            `json:"allowed"`
	RequiresComment  bool            `json:"requires_comment"`
	MissingDocuments []string        `json:"missing_documents,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// ListNotificationsRequest represents query parameters for listing notifications
type ListNotificationsRequest struct {
	Unread bool `form:"unread"`
	Limit  int  `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	status := http.StatusOK

	if h.health != nil {
		healthy, details := h.health()
		response.Components = details
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// ListApplications handles GET /api/applications
func (h *Handlers) ListApplications(c *gin.Context) {
	actor := mustActor(c)

	var req ListApplicationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	apps, err := h.services.Applications.List(c.Request.Context(), actor, port.ApplicationFilter{
		OwnerID: req.OwnerID,
		Status:  workflow.Status(req.Status),
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: apps})
}

// CreateApplication handles POST /api/applications
func (h *Handlers) CreateApplication(c *gin.Context) {
	actor := mustActor(c)

	var in service.CreateApplicationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	app, err := h.services.Applications.CreateDraft(c.Request.Context(), actor, in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: app})
}

// GetApplication handles GET /api/applications/:id
func (h *Handlers) GetApplication(c *gin.Context) {
	app, err := h.services.Applications.Get(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: app})
}

// MarkDocumentUploaded handles POST /api/applications/:id/documents/:docId/upload
func (h *Handlers) MarkDocumentUploaded(c *gin.Context) {
	var req UploadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	app, err := h.services.Applications.MarkDocumentUploaded(
		c.Request.Context(), mustActor(c), c.Param("id"), c.Param("docId"), req.FilePath)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: app})
}

// PreviewTransitions handles GET /api/applications/:id/transitions
func (h *Handlers) PreviewTransitions(c *gin.Context) {
	decisions, err := h.services.Workflow.Preview(c.Request.Context(), c.Param("id"), mustActor(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	previews := make([]PreviewResponse, 0, len(decisions))
	for _, d := range decisions {
		p := PreviewResponse{
			Target:           d.Target,
			Allowed:          d.Allowed,
			RequiresComment:  d.RequiresComment,
			MissingDocuments: d.MissingDocuments,
		}
		if err := d.Err(); err != nil {
			p.Reason = err.Error()
		}
		previews = append(previews, p)
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: previews})
}

// RequestTransition handles POST /api/applications/:id/transitions
func (h *Handlers) RequestTransition(c *gin.Context) {
	h.transition(c, h.services.Workflow.RequestTransition)
}

// ManualOverride handles POST /api/applications/:id/override
func (h *Handlers) ManualOverride(c *gin.Context) {
	h.transition(c, h.services.Workflow.ManualOverride)
}

type transitionFunc func(ctx context.Context, applicationID string, target workflow.Status, actor workflow.Actor, comment string) (*appwf.Outcome, error)

func (h *Handlers) transition(c *gin.Context, run transitionFunc) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "target_status is required")
		return
	}

	target, err := workflow.ParseStatus(req.TargetStatus)
	if err != nil {
		h.respondError(c, err)
		return
	}

	outcome, err := run(c.Request.Context(), c.Param("id"), target, mustActor(c), req.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    TransitionResponse{Outcome: outcome, Degraded: outcome.Degraded()},
	})
}

// GetHistory handles GET /api/applications/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	trail, err := h.services.Applications.History(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: trail})
}

// ExportHistory handles GET /api/applications/:id/history/export
func (h *Handlers) ExportHistory(c *gin.Context) {
	data, filename, err := h.services.Applications.ExportHistory(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ScoreRisk handles POST /api/applications/:id/risk-score
func (h *Handlers) ScoreRisk(c *gin.Context) {
	if h.services.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "risk scoring is not configured"})
		return
	}

	assessment, err := h.services.Risk.ScoreApplication(c.Request.Context(), mustActor(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: assessment})
}

// ResumeTransition handles POST /api/transitions/:id/resume
func (h *Handlers) ResumeTransition(c *gin.Context) {
	if !mustActor(c).IsAdmin() {
		h.respondError(c, fmt.Errorf("%w: resuming transitions is admin only", workflow.ErrForbidden))
		return
	}

	outcome, err := h.services.Workflow.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    TransitionResponse{Outcome: outcome, Degraded: outcome.Degraded()},
	})
}

// ListNotifications handles GET /api/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	var req ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	list, err := h.services.Notifications.ListForUser(c.Request.Context(), mustActor(c), req.Unread, req.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	if err := h.services.Notifications.MarkRead(c.Request.Context(), mustActor(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// mustActor returns the actor set by authMiddleware. Routes under /api
// always run behind it.
func mustActor(c *gin.Context) workflow.Actor {
	actor, _ := actorFrom(c)
	return actor
}
