package entity

import (
	"time"

	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// StatusChange is one immutable row of an application's audit trail
type StatusChange struct {
	ID             string          `json:"id"`
	TransitionID   string          `json:"transition_id"`
	ApplicationID  string          `json:"application_id"`
	PreviousStatus workflow.Status `json:"previous_status"`
	NewStatus      workflow.Status `json:"new_status"`
	ChangedBy      string          `json:"changed_by"`
	ChangedByRole  workflow.Role   `json:"changed_by_role"`
	Comment        string          `json:"comment,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PendingTransition records a committed status write and which follow-ups have run
type PendingTransition struct {
	ID             string          `json:"id"`
	ApplicationID  string          `json:"application_id"`
	PreviousStatus workflow.Status `json:"previous_status"`
	NewStatus      workflow.Status `json:"new_status"`
	ActorID        string          `json:"actor_id"`
	ActorRole      workflow.Role   `json:"actor_role"`
	ActorName      string          `json:"actor_name"`
	Comment        string          `json:"comment,omitempty"`
	Override       bool            `json:"override"`
	HistoryDone    bool            `json:"history_done"`
	NotifiedDone   bool            `json:"notified_done"`
	EmailDone      bool            `json:"email_done"`
	ChatDone       bool            `json:"chat_done"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ClaimedUntil   *time.Time      `json:"claimed_until,omitempty"`
}

// Actor rebuilds the actor that requested the transition
func (p *PendingTransition) Actor() workflow.Actor {
	return workflow.Actor{ID: p.ActorID, Name: p.ActorName, Role: p.ActorRole}
}

// Done reports whether every follow-up has run
func (p *PendingTransition) Done() bool {
	return p.HistoryDone && p.NotifiedDone && p.EmailDone && p.ChatDone
}
