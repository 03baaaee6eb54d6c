package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

// AuthorizationError: the user is not allowed to act on the resource.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "Vous n'avez pas la permission d'effectuer cette action."
	}
	return e.Message
}

// ValidationError is a field-level business rule violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError carries the status it should be answered with, since a
// missing declaration is reported as 403 or 400 depending on the operation.
type NotFoundError struct {
	Resource string
	Message  string
	Status   int
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Resource + " not found"
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// StateError: the action is invalid for the current status.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

type MissingParameterError struct {
	Name    string
	Message string
}

func (e *MissingParameterError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s manquant", e.Name)
}

// ExternalServiceError is logged and never answered to clients.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func NewValidationError(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func NewConflictError(message string) error {
	return &ConflictError{Message: message}
}

func NewStateError(message string) error {
	return &StateError{Message: message}
}

// HTTPStatus maps the error taxonomy to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	var authErr *AuthorizationError
	var validationErr *ValidationError
	var notFoundErr *NotFoundError
	var conflictErr *ConflictError
	var stateErr *StateError
	var missingErr *MissingParameterError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.As(err, &notFoundErr):
		if notFoundErr.Status != 0 {
			return notFoundErr.Status
		}
		return http.StatusNotFound
	case errors.As(err, &validationErr),
		errors.As(err, &conflictErr),
		errors.As(err, &stateErr),
		errors.As(err, &missingErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrorRecordNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// IsUserFacing reports whether the message can be returned to a client verbatim.
func IsUserFacing(err error) bool {
	return HTTPStatus(err) != http.StatusInternalServerError
}
