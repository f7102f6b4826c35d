// Package apperr defines the error taxonomy shared by the HTTP surface, the
// job queue and the enrichment pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and HTTP-mapping decisions.
type Kind int

const (
	// KindInternal is the zero value: unexpected failures.
	KindInternal Kind = iota
	// KindValidation covers malformed or missing request fields. Never retried.
	KindValidation
	// KindRateLimited means the caller exceeded its token bucket.
	KindRateLimited
	// KindUpstream covers channel/provider failures. Retryable within a job's
	// attempt budget.
	KindUpstream
	// KindSessionUnavailable means the target channel has no connected
	// session. Surfaced immediately, not retried.
	KindSessionUnavailable
	// KindDeadLettered marks a job whose attempts are exhausted.
	KindDeadLettered
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	case KindSessionUnavailable:
		return "session_unavailable"
	case KindDeadLettered:
		return "dead_lettered"
	default:
		return "internal"
	}
}

// Error carries a Kind alongside a stable, user-visible message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Retryable reports whether a job failure with this error should be retried.
// Upstream and unclassified internal failures are retryable; validation,
// rate-limit and session-availability failures are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindInternal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code the API returns for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindSessionUnavailable:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
