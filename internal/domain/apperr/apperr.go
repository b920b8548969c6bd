// Package apperr defines the error taxonomy shared by the purchase order services
// and the transport layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/po-workflow/internal/domain/workflow"
)

var (
	// ErrInvalidStateTransition reports an action that is not valid for the current status
	ErrInvalidStateTransition = workflow.ErrInvalidTransition

	ErrValidation             = errors.New("validation failed")
	ErrInsufficientCapital    = errors.New("insufficient capital")
	ErrTokenAlreadyUsed       = errors.New("response token already used")
	ErrTokenExpired           = errors.New("response token expired")
	ErrTokenInvalid           = errors.New("response token invalid")
	ErrMaterialCreationFailed = errors.New("material creation failed")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrNotFound               = errors.New("not found")

	// ErrStaleOrder is returned by repositories when the order changed underneath an update
	ErrStaleOrder = errors.New("purchase order was modified concurrently")
)

// ValidationError describes one or more rejected input fields
type ValidationError struct {
	Fields []FieldError
}

// FieldError is a single field problem
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validation builds a ValidationError for one field
func Validation(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field problem
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field problems were recorded
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientCapital reports the shortfall for a project
func InsufficientCapital(projectID, required, available string) error {
	return fmt.Errorf("%w: project %s requires %s but only %s is available", ErrInsufficientCapital, projectID, required, available)
}

// NotFound reports a missing entity
func NotFound(entity string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// PermissionDenied reports a failed role check
func PermissionDenied(userID, permission string) error {
	return fmt.Errorf("%w: user %s lacks %s", ErrPermissionDenied, userID, permission)
}

// MaterialCreationFailed wraps a collaborator failure
func MaterialCreationFailed(orderID int64, cause error) error {
	return fmt.Errorf("%w for purchase order %d: %w", ErrMaterialCreationFailed, orderID, cause)
}

// Code returns a stable machine-readable code for an error
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "TOKEN_ALREADY_USED"
	case errors.Is(err, ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, ErrTokenInvalid):
		return "TOKEN_INVALID"
	case errors.Is(err, ErrInvalidStateTransition):
		return "INVALID_STATE_TRANSITION"
	case errors.Is(err, ErrInsufficientCapital):
		return "INSUFFICIENT_CAPITAL"
	case errors.Is(err, ErrMaterialCreationFailed):
		return "MATERIAL_CREATION_FAILED"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}
