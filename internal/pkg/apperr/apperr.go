package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure for the HTTP boundary.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthenticated    Kind = "unauthenticated"
	KindRateLimited        Kind = "rate-limited"
	KindSourceUnavailable  Kind = "source-unavailable"
	KindAIAuth             Kind = "ai-auth"
	KindAIRateLimited      Kind = "ai-rate-limited"
	KindAIUpstream         Kind = "ai-upstream"
	KindInvalidModelOutput Kind = "invalid-model-output"
	KindInternal           Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindUnauthenticated:    http.StatusUnauthorized,
	KindRateLimited:        http.StatusTooManyRequests,
	KindSourceUnavailable:  http.StatusUnprocessableEntity,
	KindAIAuth:             http.StatusServiceUnavailable,
	KindAIRateLimited:      http.StatusTooManyRequests,
	KindAIUpstream:         http.StatusBadGateway,
	KindInvalidModelOutput: http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if code, ok := kindStatus[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// RateLimit carries quota metadata for client-side backoff.
type RateLimit struct {
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"resetAt"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
}

// Error is a classified, user-presentable failure.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	RateLimit *RateLimit
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the suggested HTTP status.
func (e *Error) Status() int { return e.Kind.Status() }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func SourceUnavailable(message string, cause error) *Error {
	return Wrap(KindSourceUnavailable, message, cause)
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}

// RateLimited builds the user-facing quota denial.
func RateLimited(rl RateLimit) *Error {
	return &Error{
		Kind:      KindRateLimited,
		Message:   fmt.Sprintf("rate limit exceeded, retry in %ds", rl.RetryAfterSeconds),
		RateLimit: &rl,
	}
}

// As extracts an *Error from err. Unclassified errors become internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf reports the kind of err, or internal when unclassified.
func KindOf(err error) Kind {
	return As(err).Kind
}

// Is reports whether err is classified with kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
