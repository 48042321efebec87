// Package apierr defines the error classes callers branch on.
//
// Handlers and middleware return typed errors rather than encoding failure
// modes in message strings. The HTTP layer maps each class to a status code
// in pkg/httputil.
package apierr

import (
	"errors"
	"fmt"
)

// BadRequestError indicates a required identifier or field is missing or
// malformed.
type BadRequestError struct {
	Field   string
	Message string
}

func (e *BadRequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("bad request: %s (%s)", e.Message, e.Field)
	}
	return "bad request: " + e.Message
}

// BadRequest creates a bad request error for a missing or invalid field.
func BadRequest(field, message string) *BadRequestError {
	return &BadRequestError{Field: field, Message: message}
}

// ForbiddenError indicates the caller's role is insufficient for the
// operation. ActualRole is "none" when the caller is not a member of the
// organization.
type ForbiddenError struct {
	RequiredRole string
	ActualRole   string
}

func (e *ForbiddenError) Error() string {
	actual := e.ActualRole
	if actual == "" {
		actual = "none"
	}
	return fmt.Sprintf("forbidden: requires role %q, caller has %q", e.RequiredRole, actual)
}

// Forbidden creates a forbidden error carrying the required and actual role.
func Forbidden(required, actual string) *ForbiddenError {
	if actual == "" {
		actual = "none"
	}
	return &ForbiddenError{RequiredRole: required, ActualRole: actual}
}

// NotFoundError indicates a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
	}
	return e.Entity + " not found"
}

// NotFound creates a not found error for an entity.
func NotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// LimitExceededError indicates the organization's plan limit for a metric
// has been reached.
type LimitExceededError struct {
	Metric  string
	Current int64
	Limit   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded for %s: %d/%d", e.Metric, e.Current, e.Limit)
}

// LimitExceeded creates a limit exceeded error for a metric.
func LimitExceeded(metric string, current, limit int64) *LimitExceededError {
	return &LimitExceededError{Metric: metric, Current: current, Limit: limit}
}

// IsBadRequest checks if an error is a bad request error.
func IsBadRequest(err error) bool {
	var e *BadRequestError
	return errors.As(err, &e)
}

// IsForbidden checks if an error is a forbidden error.
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsLimitExceeded checks if an error is a limit exceeded error.
func IsLimitExceeded(err error) bool {
	var e *LimitExceededError
	return errors.As(err, &e)
}
