// Package notify fans a committed transition out to in-app notifications,
// email and the team chat. Every channel is best effort.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
	"github.com/garyjia/crm-workflow/pkg/utils"
)

// TransitionEvent describes a committed status change
type TransitionEvent struct {
	TransitionID   string
	Application    *entity.Application
	PreviousStatus workflow.Status
	NewStatus      workflow.Status
	Actor          workflow.Actor
	Comment        string
	Override       bool
	At             time.Time
}

// Result summarises one dispatch
type Result struct {
	InAppCount int      `json:"in_app_count"`
	EmailSent  bool     `json:"email_sent"`
	ChatPosted bool     `json:"chat_posted"`
	Errors     []string `json:"errors,omitempty"`
}

// Dispatcher delivers transition notifications
type Dispatcher struct {
	notifications port.NotificationRepository
	profiles      port.ProfileRepository
	email         port.EmailSender
	chat          port.ChatNotifier
	logger        *zap.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithEmail enables the email channel
func WithEmail(sender port.EmailSender) Option {
	return func(d *Dispatcher) {
		d.email = sender
	}
}

// WithChat enables the team chat channel
func WithChat(chat port.ChatNotifier) Option {
	return func(d *Dispatcher) {
		d.chat = chat
	}
}

// NewDispatcher creates a notification dispatcher
func NewDispatcher(
	notifications port.NotificationRepository,
	profiles port.ProfileRepository,
	logger *zap.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		notifications: notifications,
		profiles:      profiles,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every channel and never fails as a whole
func (d *Dispatcher) Dispatch(ctx context.Context, evt TransitionEvent) Result {
	var res Result

	count, errs := d.NotifyInApp(ctx, evt)
	res.InAppCount = count
	res.Errors = append(res.Errors, errs...)

	sent, err := d.SendEmail(ctx, evt)
	res.EmailSent = sent
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	posted, err := d.PostChat(ctx, evt)
	res.ChatPosted = posted
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	return res
}

// NotifyInApp inserts one notification for the owner and one per active admin,
// skipping the actor. Rows already written for the transition are not repeated.
func (d *Dispatcher) NotifyInApp(ctx context.Context, evt TransitionEvent) (int, []string) {
	var errs []string
	recipients := make([]string, 0, 4)
	seen := map[string]bool{evt.Actor.ID: true}

	if owner := evt.Application.OwnerID; owner != "" && !seen[owner] {
		recipients = append(recipients, owner)
		seen[owner] = true
	}

	admins, err := d.profiles.ListActiveAdmins(ctx)
	if err != nil {
		d.logger.Error("Failed to list admins for notification",
			zap.String("transition_id", evt.TransitionID),
			zap.Error(err))
		errs = append(errs, fmt.Sprintf("%s: list admins: %v", workflow.ErrNotificationDispatch, err))
	}
	for _, admin := range admins {
		if !seen[admin.ID] {
			recipients = append(recipients, admin.ID)
			seen[admin.ID] = true
		}
	}

	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	title, message := inAppText(evt)
	created := 0
	for _, userID := range recipients {
		n := &entity.Notification{
			ID:           uuid.NewString(),
			UserID:       userID,
			TransitionID: evt.TransitionID,
			Type:         entity.NotificationTypeFor(evt.NewStatus),
			Title:        title,
			Message:      message,
			ActionURL:    ActionURL(evt.Application.ID),
			CreatedAt:    at.UTC(),
		}
		ok, err := d.notifications.Create(ctx, n)
		if err != nil {
			d.logger.Error("Failed to create notification",
				zap.String("transition_id", evt.TransitionID),
				zap.String("user_id", userID),
				zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s: notify %s: %v", workflow.ErrNotificationDispatch, userID, err))
			continue
		}
		if ok {
			created++
		}
	}

	d.logger.Info("In-app notifications dispatched",
		zap.String("transition_id", evt.TransitionID),
		zap.Int("recipients", len(recipients)),
		zap.Int("created", created))

	return created, errs
}

// SendEmail mails the owner unless the owner made the change.
// It reports false without error when there is nobody to mail.
func (d *Dispatcher) SendEmail(ctx context.Context, evt TransitionEvent) (bool, error) {
	if d.email == nil {
		return false, nil
	}
	owner := evt.Application.OwnerID
	if owner == "" || owner == evt.Actor.ID {
		return false, nil
	}

	profile, err := d.profiles.GetByID(ctx, owner)
	if err != nil {
		d.logger.Error("Failed to load owner profile", zap.String("user_id", owner), zap.Error(err))
		return false, fmt.Errorf("%w: load owner: %w", workflow.ErrNotificationDispatch, err)
	}
	if profile == nil || profile.Email == "" {
		d.logger.Warn("Owner has no email address", zap.String("user_id", owner))
		return false, nil
	}
	if err := utils.ValidateEmail(profile.Email); err != nil {
		d.logger.Warn("Skipping email to invalid address", zap.String("user_id", owner), zap.Error(err))
		return false, nil
	}

	body, err := renderEmail(evt, profile.Name)
	if err != nil {
		return false, fmt.Errorf("%w: render email: %w", workflow.ErrNotificationDispatch, err)
	}

	msg := port.EmailMessage{
		To:      profile.Email,
		Subject: EmailSubject(evt),
		HTML:    body,
	}
	if err := d.email.Send(ctx, msg); err != nil {
		d.logger.Error("Failed to send status email",
			zap.String("transition_id", evt.TransitionID),
			zap.String("to", msg.To),
			zap.Error(err))
		return false, fmt.Errorf("%w: send email: %w", workflow.ErrNotificationDispatch, err)
	}

	d.logger.Info("Status email sent",
		zap.String("transition_id", evt.TransitionID),
		zap.String("to", msg.To))
	return true, nil
}

// PostChat posts a one-line summary to the team chat when one is configured
func (d *Dispatcher) PostChat(ctx context.Context, evt TransitionEvent) (bool, error) {
	if d.chat == nil {
		return false, nil
	}
	if err := d.chat.Post(ctx, chatText(evt)); err != nil {
		d.logger.Error("Failed to post chat message",
			zap.String("transition_id", evt.TransitionID),
			zap.Error(err))
		return false, fmt.Errorf("%w: chat: %w", workflow.ErrNotificationDispatch, err)
	}
	return true, nil
}

// ActionURL is the in-app link to an application
func ActionURL(applicationID string) string {
	return "/applications/" + applicationID
}

// EmailSubject is derived from the target status
func EmailSubject(evt TransitionEvent) string {
	switch evt.NewStatus {
	case workflow.StatusReturned:
		return fmt.Sprintf("Action needed: application %s was returned", reference(evt))
	case workflow.StatusNeedMoreInfo:
		return fmt.Sprintf("Action needed: more information for application %s", reference(evt))
	case workflow.StatusRejected:
		return fmt.Sprintf("Application %s was rejected", reference(evt))
	default:
		return fmt.Sprintf("Application %s is now %s", reference(evt), evt.NewStatus)
	}
}

func reference(evt TransitionEvent) string {
	if evt.Application.Reference != "" {
		return evt.Application.Reference
	}
	return evt.Application.ID
}

func inAppText(evt TransitionEvent) (string, string) {
	title := fmt.Sprintf("Status updated: %s", evt.NewStatus)
	message := fmt.Sprintf("Application %s moved from %s to %s.", reference(evt), evt.PreviousStatus, evt.NewStatus)
	if evt.Comment != "" {
		message += " Comment: " + evt.Comment
	}
	return title, message
}

func chatText(evt TransitionEvent) string {
	text := fmt.Sprintf("[%s] %s -> %s by %s", reference(evt), evt.PreviousStatus, evt.NewStatus, evt.Actor.DisplayName())
	if evt.Override {
		text += " (manual override)"
	}
	if evt.Comment != "" {
		text += ": " + evt.Comment
	}
	return text
}

var emailTemplate = template.Must(template.New("status").Parse(`<p>Hello {{.Name}},</p>
<p>Your application <strong>{{.Reference}}</strong> moved from {{.Previous}} to <strong>{{.New}}</strong>.</p>
{{if .Comment}}<p>Comment from our team:</p><blockquote>{{.Comment}}</blockquote>{{end}}
<p><a href="{{.URL}}">Open application</a></p>`))

func renderEmail(evt TransitionEvent, name string) (string, error) {
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]string{
		"Name":      name,
		"Reference": reference(evt),
		"Previous":  evt.PreviousStatus.String(),
		"New":       evt.NewStatus.String(),
		"Comment":   evt.Comment,
		"URL":       ActionURL(evt.Application.ID),
	})
	return buf.String(), err
}
