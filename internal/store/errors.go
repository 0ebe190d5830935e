package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity. For processed events this is the dedup gate:
	// a duplicate insert means the event was already ingested.
	ErrDuplicate = errors.New("entity already exists")

	// ErrNotOwner is returned when a worker attempts to heartbeat or
	// finalize a task it no longer owns, typically because the reaper
	// reclaimed the task after a heartbeat timeout.
	ErrNotOwner = errors.New("task not owned by caller")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrMeetingNotFound indicates that the requested meeting does not exist in the store.
	ErrMeetingNotFound = fmt.Errorf("%w: meeting", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrEventAlreadyProcessed indicates that a processed-event record with the
	// same external ID already exists. Ingestion treats this as a duplicate
	// delivery, not a failure.
	ErrEventAlreadyProcessed = fmt.Errorf("%w: processed event", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsNotOwnerError checks if the error indicates lost task ownership.
func IsNotOwnerError(err error) bool {
	return errors.Is(err, ErrNotOwner)
}
