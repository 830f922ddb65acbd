// Package gate decides whether an application may move to a target status.
// Everything here is pure: no I/O, safe to call for previews.
package gate

import (
	"fmt"
	"strings"

	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Decision is the outcome of a gate check
type Decision struct {
	Allowed          bool            `json:"allowed"`
	MissingDocuments []string        `json:"missing_documents,omitempty"`
	Target           workflow.Status `json:"target"`
	RequiresComment  bool            `json:"requires_comment"`

	err error
}

// Err returns the precondition error behind a refusal, or nil when allowed
func (d Decision) Err() error {
	return d.err
}

// Gate evaluates transitions against a table
type Gate struct {
	table *workflow.Table
}

// New creates a gate over the given table
func New(table *workflow.Table) *Gate {
	return &Gate{table: table}
}

// Default returns a gate over the application lifecycle table
func Default() *Gate {
	return New(workflow.DefaultTable())
}

// CanTransition checks role permission, then document completeness.
// MissingDocuments is only reported for transitions the role may make.
func (g *Gate) CanTransition(app *entity.Application, target workflow.Status, role workflow.Role) Decision {
	d := Decision{Target: target, RequiresComment: target.RequiresComment()}

	if err := g.table.Check(app.Status, target, role); err != nil {
		d.err = err
		return d
	}

	return g.checkDocuments(app, target, role, d)
}

// CanOverride skips the table but keeps the document requirement
func (g *Gate) CanOverride(app *entity.Application, target workflow.Status) Decision {
	d := Decision{Target: target, RequiresComment: target.RequiresComment()}

	if !target.IsValid() {
		d.err = fmt.Errorf("%w: %q", workflow.ErrInvalidStatus, target)
		return d
	}
	if target == app.Status {
		d.err = &workflow.TransitionError{From: app.Status, To: target, Role: workflow.RoleAdmin}
		return d
	}

	return g.checkDocuments(app, target, workflow.RoleAdmin, d)
}

func (g *Gate) checkDocuments(app *entity.Application, target workflow.Status, role workflow.Role, d Decision) Decision {
	if NeedsDocuments(target, role) {
		if missing := app.MissingMandatory(); len(missing) > 0 {
			d.MissingDocuments = missing
			d.err = &workflow.IncompleteDocumentsError{Target: target, Missing: missing}
			return d
		}
	}
	d.Allowed = true
	return d
}

// Preview evaluates every target the role could reach from the current status
func (g *Gate) Preview(app *entity.Application, role workflow.Role) []Decision {
	targets := g.table.Targets(app.Status, role)
	out := make([]Decision, 0, len(targets))
	for _, target := range targets {
		out = append(out, g.CanTransition(app, target, role))
	}
	return out
}

// NeedsDocuments reports whether entering target requires all mandatory documents
func NeedsDocuments(target workflow.Status, role workflow.Role) bool {
	if target == workflow.StatusSentToBank {
		return true
	}
	return target == workflow.StatusSubmitted && role != workflow.RoleAdmin
}

// CheckComment enforces the comment requirement of the target
func CheckComment(target workflow.Status, comment string) error {
	if target.RequiresComment() && strings.TrimSpace(comment) == "" {
		return fmt.Errorf("%w: %s", workflow.ErrMissingComment, target)
	}
	return nil
}
