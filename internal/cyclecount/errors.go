package cyclecount

import (
	"fmt"

	"inventory-backend/internal/models"
)

// Entity names used in NotFoundError and audit rows.
const (
	EntitySchedule   = "cycle_count_schedule"
	EntityBatch      = "cycle_count_batch"
	EntityItem       = "cycle_count_item"
	EntityResult     = "cycle_count_result"
	EntityAdjustment = "cycle_count_adjustment"
	EntityUser       = "user"
)

// ValidationError: bad enum value, missing field, or a request the current state cannot accept.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

type NotFoundError struct {
	Entity string
	ID     uint
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ConflictError: the target is no longer in a state that allows the operation.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return "conflict: " + e.Message
}

func conflictf(format string, args ...any) ConflictError {
	return ConflictError{Message: fmt.Sprintf(format, args...)}
}

type AuthorizationError struct {
	UserID     uint
	Capability models.Capability
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("user %d lacks capability %s", e.UserID, e.Capability)
}
