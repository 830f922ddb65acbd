package entity

import (
	"time"

	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Notification types
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
	NotificationWarning = "warning"
	NotificationInfo    = "info"
)

// Notification is an in-app message owned by its recipient
type Notification struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TransitionID string    `json:"transition_id,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	ActionURL    string    `json:"action_url"`
	IsRead       bool      `json:"is_read"`
	CreatedAt    time.Time `json:"created_at"`
}

// NotificationTypeFor maps a target status to a notification type.
// "Approved" is accepted for labels that are not part of the status enumeration.
func NotificationTypeFor(target workflow.Status) string {
	switch target {
	case workflow.StatusComplete, "Approved":
		return NotificationSuccess
	case workflow.StatusRejected:
		return NotificationError
	case workflow.StatusReturned:
		return NotificationWarning
	default:
		return NotificationInfo
	}
}

// Profile is a user known to the workflow
type Profile struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Role      workflow.Role `json:"role"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
}
