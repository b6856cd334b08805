// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the `code` field
// of ErrorResponse. Clients branch on them; messages are for humans.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "too_many_requests",
//	  "message": "GitHub rate limit reached; retry after 2024-05-01T10:00:00Z"
//	}
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "too_many_requests"
	ErrCodeUpstream           = "upstream_error"
	ErrCodeStorageUnavailable = "storage_unavailable"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// codeFor maps a domain error kind to its API code.
func codeFor(k domain.ErrorKind) string {
	switch k {
	case domain.KindValidation:
		return ErrCodeBadRequest
	case domain.KindRateLimited:
		return ErrCodeRateLimited
	case domain.KindNotFound:
		return ErrCodeNotFound
	case domain.KindUpstream:
		return ErrCodeUpstream
	case domain.KindPrecondition:
		return ErrCodeConflict
	case domain.KindStorageUnavailable:
		return ErrCodeStorageUnavailable
	case domain.KindUnauthorized:
		return ErrCodeUnauthorized
	case domain.KindForbidden:
		return ErrCodeForbidden
	default:
		return ErrCodeInternal
	}
}

// failErr writes err using its domain kind. Unclassified errors become 500s
// with a generic message; their detail only reaches the logs. Rate-limit
// errors carry Retry-After when the reset time is known.
func failErr(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := domain.HTTPStatus(kind)
	msg := err.Error()

	var de *domain.Error
	if !errors.As(err, &de) || status >= http.StatusInternalServerError {
		_ = c.Error(err)
		msg = http.StatusText(status)
	}
	if resetAt, ok := domain.ResetAtOf(err); ok {
		if secs := int(time.Until(resetAt).Seconds()); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
		msg = "GitHub rate limit reached; retry after " + resetAt.UTC().Format(time.RFC3339)
	}
	fail(c, status, codeFor(kind), msg)
}
