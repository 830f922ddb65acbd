package workflow

import (
	"time"

	"github.com/garyjia/crm-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/crm-workflow/internal/domain/workflow"
)

// Snapshot holds the fields an optimistic apply changed so they can be restored
type Snapshot struct {
	app       *entity.Application
	status    domainwf.Status
	updatedAt time.Time
	settled   bool
}

// ApplyOptimistic moves the in-memory application to target before the write is confirmed
func ApplyOptimistic(app *entity.Application, target domainwf.Status, at time.Time) *Snapshot {
	s := &Snapshot{app: app, status: app.Status, updatedAt: app.UpdatedAt}
	app.Status = target
	app.UpdatedAt = at
	return s
}

// Previous is the status before the optimistic apply
func (s *Snapshot) Previous() domainwf.Status {
	return s.status
}

// Commit keeps the applied state. Later Rollback calls are no-ops.
func (s *Snapshot) Commit() {
	s.settled = true
}

// Rollback restores the application unless the snapshot was already settled
func (s *Snapshot) Rollback() {
	if s.settled {
		return
	}
	s.app.Status = s.status
	s.app.UpdatedAt = s.updatedAt
	s.settled = true
}
