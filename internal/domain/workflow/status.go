package workflow

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of an application
type Status string

const (
	StatusDraft        Status = "Draft"
	StatusSubmitted    Status = "Submitted"
	StatusReturned     Status = "Returned"
	StatusSentToBank   Status = "Sent to Bank"
	StatusNeedMoreInfo Status = "Need More Info"
	StatusComplete     Status = "Complete"
	StatusRejected     Status = "Rejected"
	StatusPaid         Status = "Paid"
)

// allStatuses keeps the display order used by previews and reports
var allStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusReturned,
	StatusSentToBank,
	StatusNeedMoreInfo,
	StatusComplete,
	StatusRejected,
	StatusPaid,
}

var validStatuses = map[Status]bool{
	StatusDraft:        true,
	StatusSubmitted:    true,
	StatusReturned:     true,
	StatusSentToBank:   true,
	StatusNeedMoreInfo: true,
	StatusComplete:     true,
	StatusRejected:     true,
	StatusPaid:         true,
}

var terminalStatuses = map[Status]bool{
	StatusPaid: true,
}

// commentStatuses are targets that must carry an explanation for the owner
var commentStatuses = map[Status]bool{
	StatusReturned:     true,
	StatusRejected:     true,
	StatusNeedMoreInfo: true,
}

// Statuses returns every status in display order
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus resolves a status label, ignoring case and surrounding spaces
func ParseStatus(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range allStatuses {
		if strings.EqualFold(string(st), trimmed) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsTerminal returns true if no transition may leave the status
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsValid returns true if the status belongs to the closed enumeration
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// RequiresComment reports whether entering the status needs a non-empty comment
func (s Status) RequiresComment() bool {
	return commentStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Role is the permission class of an actor
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// IsValid returns true for admin and user
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

func (r Role) String() string {
	return string(r)
}

// Actor is whoever initiates a transition. It is always passed explicitly.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Email string `json:"email,omitempty"`
}

// IsAdmin reports whether the actor holds the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// DisplayName falls back to the id when no name is known
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
