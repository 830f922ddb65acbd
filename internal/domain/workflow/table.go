package workflow

import "fmt"

// Table is an immutable set of role-gated transitions
type Table struct {
	edges map[Status]map[Role][]Status
}

// defaultTable is the application lifecycle
var defaultTable = buildDefaultTable()

func buildDefaultTable() *Table {
	b := NewBuilder()

	b.Configure(StatusDraft).
		Permit(RoleUser, StatusSubmitted)

	b.Configure(StatusSubmitted).
		Permit(RoleAdmin, StatusReturned, StatusSentToBank)

	b.Configure(StatusReturned).
		Permit(RoleAdmin, StatusSentToBank).
		Permit(RoleUser, StatusSubmitted)

	b.Configure(StatusSentToBank).
		Permit(RoleAdmin, StatusComplete, StatusRejected, StatusNeedMoreInfo)

	b.Configure(StatusNeedMoreInfo).
		Permit(RoleAdmin, StatusSentToBank, StatusReturned)

	b.Configure(StatusComplete).
		Permit(RoleAdmin, StatusPaid)

	// re-submission to the bank after a rejection
	b.Configure(StatusRejected).
		Permit(RoleAdmin, StatusSentToBank)

	return b.Build()
}

// DefaultTable returns the transition table of the application lifecycle
func DefaultTable() *Table {
	return defaultTable
}

// Targets returns the statuses the role may reach from the given status
func (t *Table) Targets(from Status, role Role) []Status {
	byRole, ok := t.edges[from]
	if !ok {
		return nil
	}
	return append([]Status(nil), byRole[role]...)
}

// Permits reports whether the role may move from one status to another
func (t *Table) Permits(from, to Status, role Role) bool {
	if from.IsTerminal() {
		return false
	}
	return containsStatus(t.edges[from][role], to)
}

// Check returns a *TransitionError when the move is not permitted
func (t *Table) Check(from, to Status, role Role) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if !t.Permits(from, to, role) {
		return &TransitionError{From: from, To: to, Role: role}
	}
	return nil
}
