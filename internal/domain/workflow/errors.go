package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned when the target is not reachable for the actor's role
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingComment is returned when a comment-requiring target is requested without one
	ErrMissingComment = errors.New("comment is required for this status")

	// ErrIncompleteDocuments is returned while mandatory documents are missing
	ErrIncompleteDocuments = errors.New("mandatory documents are missing")

	// ErrInvalidStatus is returned when a status label is not recognised
	ErrInvalidStatus = errors.New("invalid status")

	// ErrPersistence wraps failures of the underlying datastore
	ErrPersistence = errors.New("persistence failure")

	// ErrNotificationDispatch wraps failures of in-app or email delivery
	ErrNotificationDispatch = errors.New("notification dispatch failed")

	// ErrStatusConflict is returned when the status moved between read and write
	ErrStatusConflict = errors.New("status changed concurrently")

	// ErrForbidden is returned when the actor may not act on the entity
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when the entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrFollowUpsInProgress is returned when another run holds the transition's follow-ups
	ErrFollowUpsInProgress = errors.New("transition follow-ups already in progress")
)

// IncompleteDocumentsError lists the mandatory documents that are not uploaded yet
type IncompleteDocumentsError struct {
	Target  Status
	Missing []string
}

func (e *IncompleteDocumentsError) Error() string {
	return fmt.Sprintf("%s: cannot move to %s, missing %s",
		ErrIncompleteDocuments, e.Target, strings.Join(e.Missing, ", "))
}

// Is lets errors.Is match ErrIncompleteDocuments
func (e *IncompleteDocumentsError) Is(target error) bool {
	return target == ErrIncompleteDocuments
}

// TransitionError describes a rejected from/to pair
type TransitionError struct {
	From Status
	To   Status
	Role Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s not permitted for %s", ErrInvalidTransition, e.From, e.To, e.Role)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
