package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies failures so that callers can decide how to recover
// without inspecting messages.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindValidation is bad user input; recovered locally.
	KindValidation
	// KindRateLimited carries the time the upstream quota resets.
	KindRateLimited
	// KindNotFound is a missing upstream or local resource.
	KindNotFound
	// KindUpstream is any other non-2xx upstream response.
	KindUpstream
	// KindPrecondition means required prior state is missing.
	KindPrecondition
	// KindStorageUnavailable is swallowed by the cache and local stores.
	KindStorageUnavailable
	KindUnauthorized
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindPrecondition:
		return "precondition"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned across package boundaries.
//
// Fields:
//   - Kind: failure class.
//   - Msg: human-readable message, safe to show to users.
//   - Resource: identifier of the missing resource (KindNotFound).
//   - Status: upstream HTTP status (KindUpstream, KindRateLimited).
//   - ResetAt: when the upstream quota resets (KindRateLimited).
//   - Err: wrapped cause, if any.
type Error struct {
	Kind     ErrorKind
	Msg      string
	Resource string
	Status   int
	ResetAt  time.Time
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, domain.ErrRateLimited) works for any rate-limit error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrUpstream           = &Error{Kind: KindUpstream}
	ErrPrecondition       = &Error{Kind: KindPrecondition}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
)

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func Precondition(msg string) error { return &Error{Kind: KindPrecondition, Msg: msg} }

func Unauthorized(msg string) error { return &Error{Kind: KindUnauthorized, Msg: msg} }

func Forbidden(msg string) error { return &Error{Kind: KindForbidden, Msg: msg} }

// RateLimited reports an exhausted upstream quota that resets at resetAt.
func RateLimited(resetAt time.Time) error {
	return &Error{
		Kind:    KindRateLimited,
		Msg:     "rate limit exceeded until " + resetAt.UTC().Format(time.RFC3339),
		ResetAt: resetAt,
		Status:  http.StatusForbidden,
	}
}

// NotFound reports a missing resource identified by resource.
func NotFound(resource string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s not found", resource), Resource: resource, Status: http.StatusNotFound}
}

// Upstream reports a non-2xx upstream status, optionally wrapping a cause.
func Upstream(status int, cause error) error {
	return &Error{Kind: KindUpstream, Msg: fmt.Sprintf("upstream responded %d", status), Status: status, Err: cause}
}

// StorageUnavailable wraps a storage failure.
func StorageUnavailable(cause error) error {
	return &Error{Kind: KindStorageUnavailable, Msg: "storage unavailable", Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ResetAtOf returns the reset time of a rate-limit error in err's chain.
func ResetAtOf(err error) (time.Time, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.ResetAt, true
	}
	return time.Time{}, false
}

// HTTPStatus maps an error kind to the status code the API responds with.
func HTTPStatus(k ErrorKind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindPrecondition:
		return http.StatusConflict
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
