package engine

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an execution failure.
type Kind string

const (
	KindNotFound    Kind = "NOT_FOUND"
	KindForbidden   Kind = "FORBIDDEN"
	KindInvalid     Kind = "INVALID_INPUT"
	KindRateLimited Kind = "RATE_LIMITED"
	KindInternal    Kind = "INTERNAL"
)

// Machine codes carried on typed errors. Permission denials reuse the
// codes the evaluator produced.
const (
	CodeDeploymentNotFound = "DEPLOYMENT_NOT_FOUND"
	CodeToolNotFound       = "TOOL_NOT_FOUND"
	CodeElementNotFound    = "ELEMENT_NOT_FOUND"
	CodeNotActive          = "DEPLOYMENT_NOT_ACTIVE"
	CodeMissingToolRef     = "MISSING_TOOL_REFERENCE"
	CodeMissingField       = "MISSING_REQUIRED_FIELD"
	CodeRateLimited        = "RATE_LIMITED"
	CodeStateNotSaved      = "STATE_NOT_SAVED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is a typed execution failure. Message is user-visible; internal
// faults carry a generic message and the detail stays in the logs.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus maps the error kind to the status a transport boundary
// should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalid:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound reports whether err is a typed not-found failure. Wrapped
// errors are unwrapped.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// IsForbidden reports whether err is a typed permission failure.
func IsForbidden(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindForbidden
}

// IsRateLimited reports whether err is a throttling denial.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRateLimited
}

func notFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func forbiddenError(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func invalidError(code, message string) *Error {
	return &Error{Kind: KindInvalid, Code: code, Message: message}
}

func rateLimitedError(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Code:       CodeRateLimited,
		Message:    "too many requests, slow down",
		RetryAfter: retryAfter,
	}
}

// internalError deliberately hides detail from the caller; callers log
// the underlying fault before building one.
func internalError(code string) *Error {
	if code == CodeStateNotSaved {
		return &Error{Kind: KindInternal, Code: code, Message: "state not saved, retry"}
	}
	return &Error{Kind: KindInternal, Code: code, Message: "internal error"}
}
