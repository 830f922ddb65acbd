// Package workflow orchestrates status transitions: preconditions, the status
// write as commit point, and idempotent follow-ups keyed by transition id.
package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/crm-workflow/internal/application/gate"
	"github.com/garyjia/crm-workflow/internal/application/notify"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Engine is the status workflow of applications
type Engine interface {
	// RequestTransition moves an application along the transition table
	RequestTransition(ctx context.Context, applicationID string, target domainwf.Status, actor domainwf.Actor, comment string) (*Outcome, error)

	// ManualOverride lets an admin set any other status, bypassing the table
	ManualOverride(ctx context.Context, applicationID string, target domainwf.Status, actor domainwf.Actor, comment string) (*Outcome, error)

	// Preview evaluates every target the actor could request right now
	Preview(ctx context.Context, applicationID string, actor domainwf.Actor) ([]gate.Decision, error)

	// Resume reruns the unfinished follow-ups of a committed transition.
	// Returns ErrFollowUpsInProgress while another run holds them.
	Resume(ctx context.Context, transitionID string) (*Outcome, error)

	// ResumePending resumes up to limit unfinished transitions, oldest first,
	// skipping those still inside the grace period or held by another run
	ResumePending(ctx context.Context, limit int) ([]*Outcome, error)
}

// Follow-up names reported in Outcome.SideEffects
const (
	StepStatus      = "status"
	StepHistory     = "history"
	StepInApp       = "in_app"
	StepEmail       = "email"
	StepChat        = "chat"
	StepBookkeeping = "bookkeeping"
)

// Result is the outcome of one step
type Result struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`

	Err error `json:"-"`
}

func okResult(name string) Result {
	return Result{Name: name, OK: true}
}

func skippedResult(name string) Result {
	return Result{Name: name, OK: true, Skipped: true}
}

func failedResult(name string, err error) Result {
	return Result{Name: name, Error: err.Error(), Err: err}
}

// Outcome separates the committed transition from its side effects.
// A non-nil Outcome always means the status write committed.
type Outcome struct {
	TransitionID   string               `json:"transition_id"`
	Application    *entity.Application  `json:"application"`
	PreviousStatus domainwf.Status      `json:"previous_status"`
	NewStatus      domainwf.Status      `json:"new_status"`
	StatusChange   *entity.StatusChange `json:"status_change,omitempty"`
	Notification   notify.Result        `json:"notification"`
	Primary        Result               `json:"primary"`
	SideEffects    []Result             `json:"side_effects"`
	Completed      bool                 `json:"completed"`
}

// Degraded reports whether any side effect failed
func (o *Outcome) Degraded() bool {
	for _, r := range o.SideEffects {
		if !r.OK {
			return true
		}
	}
	return false
}

// SideEffectErr joins the side effect failures, or returns nil
func (o *Outcome) SideEffectErr() error {
	var errs []error
	for _, r := range o.SideEffects {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
