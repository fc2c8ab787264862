package rooms

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrForbidden is returned when a privileged operation is attempted by a
	// caller that did not assert privilege.
	ErrForbidden = errors.New("operation requires room owner")
	// ErrBadToken is returned when a participant id is presented without
	// its matching session token.
	ErrBadToken = errors.New("participant token does not match")
)

// ValidationError reports a malformed or out-of-domain input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
