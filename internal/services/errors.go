package services

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode string

const (
	ErrorInvalid        ErrorCode = "invalid"
	ErrorDuplicateTitle ErrorCode = "duplicate_title"
	ErrorNotFound       ErrorCode = "not_found"
	ErrorConflict       ErrorCode = "conflict"
	ErrorForbidden      ErrorCode = "forbidden"
	ErrorUnauthorized   ErrorCode = "unauthorized"
)

// FieldError names the entity and field that failed validation.
type FieldError struct {
	Entity  string `json:"entity"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type ServiceError struct {
	Code    ErrorCode
	Message string
	Details []FieldError
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error { return &ServiceError{Code: ErrorInvalid, Message: msg} }

func NewFieldError(entity, id, field, msg string) error {
	return &ServiceError{
		Code:    ErrorInvalid,
		Message: fmt.Sprintf("%s.%s: %s", entity, field, msg),
		Details: []FieldError{{Entity: entity, ID: id, Field: field, Message: msg}},
	}
}

func NewValidationError(msg string, details []FieldError) error {
	return &ServiceError{Code: ErrorInvalid, Message: msg, Details: details}
}

func NewDuplicateTitleError(title string) error {
	return &ServiceError{
		Code:    ErrorDuplicateTitle,
		Message: fmt.Sprintf("a module titled %q already exists", strings.TrimSpace(title)),
		Details: []FieldError{{Entity: "module", Field: "title", Message: "duplicate title"}},
	}
}

func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }

func NewConcurrencyConflictError(msg string) error {
	return &ServiceError{Code: ErrorConflict, Message: msg}
}

func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }

func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func hasCode(err error, code ErrorCode) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == code
}

func IsInvalid(err error) bool             { return hasCode(err, ErrorInvalid) }
func IsNotFound(err error) bool            { return hasCode(err, ErrorNotFound) }
func IsDuplicateTitle(err error) bool      { return hasCode(err, ErrorDuplicateTitle) }
func IsConcurrencyConflict(err error) bool { return hasCode(err, ErrorConflict) }

// Storage-level uniqueness constraints reported by Store implementations.
const (
	ConstraintModuleTitle     = "module_title"
	ConstraintModuleCode      = "module_code"
	ConstraintSnapshotVersion = "snapshot_version"
)

// ConstraintError is returned by a Store when a uniqueness constraint rejects a write.
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("constraint %s violated: %v", e.Constraint, e.Err)
	}
	return fmt.Sprintf("constraint %s violated", e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func constraintOf(err error) (string, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint, true
	}
	return "", false
}

// Warning is a non-fatal finding surfaced alongside a successful result.
type Warning struct {
	Code        string `json:"code"`
	StepID      string `json:"step_id,omitempty"`
	ChoiceIndex *int   `json:"choice_index,omitempty"`
	AssetID     string `json:"asset_id,omitempty"`
	Message     string `json:"message"`
}

const (
	WarningReferenceDangling      = "reference_dangling"
	WarningQuestionWithoutChoices = "question_without_choices"
	WarningUnreachableStep        = "unreachable_step"
	WarningReferenceCleared       = "reference_cleared"
)
