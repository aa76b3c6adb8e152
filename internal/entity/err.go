package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalid   = errors.New("invalid entity")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
	ErrInternal  = errors.New("internal error")
)

// Failure kinds of the orchestration core. Components return these wrapped
// with context so callers can branch on errors.Is.
var (
	ErrDetection           = errors.New("detection failed")
	ErrValidation          = errors.New("validation failed")
	ErrTaskSubmission      = errors.New("task submission failed")
	ErrTaskExecution       = errors.New("task execution failed")
	ErrTimeout             = errors.New("timed out")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSignatureValidation = errors.New("signature validation failed")
)

// InvalidTransitionError reports an illegal state-machine edge. It unwraps
// to ErrInvalidTransition.
type InvalidTransitionError struct {
	From DeploymentStatus
	To   DeploymentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
