package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorIs_MatchesByKind(t *testing.T) {
	reset := time.Unix(1_700_000_000, 0)
	err := fmt.Errorf("profile: %w", RateLimited(reset))

	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected errors.Is(err, ErrRateLimited)")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("rate-limit error must not match ErrNotFound")
	}
	if KindOf(err) != KindRateLimited {
		t.Fatalf("KindOf = %v; want rate_limited", KindOf(err))
	}
	got, ok := ResetAtOf(err)
	if !ok || !got.Equal(reset) {
		t.Fatalf("ResetAtOf = %v, %v; want %v, true", got, ok, reset)
	}
}

func TestUpstream_WrapsCause(t *testing.T) {
	cause := errors.New("bad json")
	err := Upstream(200, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if err.Error() != "upstream responded 200: bad json" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindOf_Unknown(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors must be KindUnknown")
	}
	if _, ok := ResetAtOf(NotFound("x")); ok {
		t.Fatalf("ResetAtOf must be false for non rate-limit errors")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		k    ErrorKind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindNotFound, http.StatusNotFound},
		{KindUpstream, http.StatusBadGateway},
		{KindPrecondition, http.StatusConflict},
		{KindStorageUnavailable, http.StatusServiceUnavailable},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.k); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d; want %d", tc.k, got, tc.want)
		}
	}
}
