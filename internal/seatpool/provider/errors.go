package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a response the provider rejected.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: %d: %s", e.Status, e.Message)
}

// Class is how the engine reacts to a failed provider call.
type Class int

const (
	// ClassNone means the call succeeded.
	ClassNone Class = iota
	// ClassAuth (401/403) disqualifies the account for good.
	ClassAuth
	// ClassRetryable (429, 5xx, transport failures) may be retried on
	// another account.
	ClassRetryable
	// ClassPermanent fails immediately with no retry and no invalidation.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassAuth:
		return "auth"
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an error from a Gateway call to its Class. Errors that are
// not *Error come from the transport and are treated as retryable, except
// for our own context being cancelled.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var pe *Error
	if errors.As(err, &pe) {
		switch {
		case pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden:
			return ClassAuth
		case pe.Status == http.StatusTooManyRequests || pe.Status >= 500:
			return ClassRetryable
		default:
			return ClassPermanent
		}
	}

	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	return ClassRetryable
}

// ErrorCode returns a short machine code for storing on invite rows.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Code != "" {
			return pe.Code
		}
		return fmt.Sprintf("http_%d", pe.Status)
	}
	return "transport"
}

// IsNotFound reports whether the provider said the target does not exist.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Status == http.StatusNotFound
}

func equalFoldEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
