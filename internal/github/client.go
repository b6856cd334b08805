// Package github is a conditional, rate-limit-aware client for the two
// GitHub REST resources the dashboard shows: a user's profile and their
// repository list.
//
// The client never retries. Before every request it consults a RateGuard and
// fails fast with a rate-limit error while the guard is locked; after every
// response it re-arms the guard from the x-ratelimit-* headers.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/observability"
)

const (
	baseURLDefault = "https://api.github.com"
	defaultTimeout = 10 * time.Second
	defaultUA      = "go-portfolio-backend"

	// maxBody caps how much of a response body is read.
	maxBody = 8 << 20

	// fallbackLock is used when a 403 carries no usable reset header.
	fallbackLock = time.Hour
)

// Options configures the Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Token     string // optional bearer token
	Timeout   time.Duration

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Result is the outcome of a successful conditional fetch. On NotModified,
// Data is nil and ETag echoes the etag that was sent.
type Result struct {
	NotModified bool
	Data        json.RawMessage
	ETag        string
}

// Client issues conditional GETs against the GitHub REST API.
type Client struct {
	http  *http.Client
	opts  Options
	guard *RateGuard
	now   func() time.Time
	log   zerolog.Logger
}

// NewClient creates a Client gated by guard.
func NewClient(o Options, guard *RateGuard) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		http:  hc,
		opts:  o,
		guard: guard,
		now:   time.Now,
		log:   log.With().Str("component", "github").Logger(),
	}
}

// WithClock replaces the client's time source.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// ProfilePath is the API path of a user's profile.
func ProfilePath(login string) string {
	return "/users/" + url.PathEscape(login)
}

// ReposPath is the API path of a user's repositories, most recently updated first.
func ReposPath(login string, perPage int) string {
	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("per_page", strconv.Itoa(perPage))
	return "/users/" + url.PathEscape(login) + "/repos?" + q.Encode()
}

// Fetch performs a conditional GET of path. etag, when non-empty, is sent as
// If-None-Match.
//
// Errors are *domain.Error values: KindRateLimited (guard locked or 403),
// KindNotFound (404) or KindUpstream (other non-2xx, transport failures and
// unparseable bodies).
func (c *Client) Fetch(ctx context.Context, path, etag string) (Result, error) {
	resource := resourceLabel(path)
	ctx, span := otel.Tracer("github/Client").Start(ctx, "Fetch",
		trace.WithAttributes(attribute.String("github.path", path), attribute.Bool("github.conditional", etag != "")))
	defer span.End()

	res, outcome, err := c.fetch(ctx, path, etag)
	observability.GitHubFetches.WithLabelValues(resource, outcome).Inc()
	span.SetAttributes(attribute.String("github.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return res, err
}

func (c *Client) fetch(ctx context.Context, path, etag string) (Result, string, error) {
	if resetAt, locked := c.guard.IsLocked(ctx); locked {
		c.log.Debug().Str("path", path).Time("reset_at", resetAt).Msg("github request skipped, rate guard locked")
		return Result{}, "locked", domain.RateLimited(resetAt)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path, nil)
	if err != nil {
		return Result{}, "error", domain.Upstream(0, fmt.Errorf("github new request: %w", err))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, "error", domain.Upstream(0, fmt.Errorf("github do: %w", err))
	}
	defer drainAndClose(resp.Body)

	remaining, reset, hasReset := parseRateHeaders(resp.Header)
	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", c.now().Sub(start)).
		Str("rate_remaining", remaining).
		Time("rate_reset", reset).
		Msg("github http response")

	// 1) Re-arm the guard from headers, whatever the status.
	if remaining == "0" && hasReset {
		c.guard.Lock(ctx, reset)
	}

	switch {
	// 2) Not modified: the cached copy is still current.
	case resp.StatusCode == http.StatusNotModified:
		return Result{NotModified: true, ETag: etag}, "not_modified", nil

	// 3) Forbidden is GitHub's primary rate-limit signal.
	case resp.StatusCode == http.StatusForbidden:
		if !hasReset {
			reset = c.now().Add(fallbackLock)
		}
		c.guard.Lock(ctx, reset)
		c.log.Warn().Str("path", path).Time("reset_at", reset).Msg("github rate limit hit")
		return Result{}, "rate_limited", domain.RateLimited(reset)

	case resp.StatusCode == http.StatusNotFound:
		return Result{}, "not_found", domain.NotFound(path)

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, "upstream_error", domain.Upstream(resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{}, "error", domain.Upstream(resp.StatusCode, fmt.Errorf("github read body: %w", err))
	}
	if !json.Valid(body) {
		return Result{}, "error", domain.Upstream(resp.StatusCode, fmt.Errorf("github body is not valid JSON"))
	}
	return Result{Data: json.RawMessage(body), ETag: resp.Header.Get("ETag")}, "ok", nil
}

// parseRateHeaders returns the raw remaining-quota header and the reset
// instant. hasReset is false when the reset header is absent or unparseable.
func parseRateHeaders(h http.Header) (remaining string, reset time.Time, hasReset bool) {
	remaining = strings.TrimSpace(h.Get("X-RateLimit-Remaining"))
	if rs := strings.TrimSpace(h.Get("X-RateLimit-Reset")); rs != "" {
		if sec, err := strconv.ParseInt(rs, 10, 64); err == nil && sec > 0 {
			return remaining, time.UnixMilli(sec * 1000), true
		}
	}
	return remaining, time.Time{}, false
}

// resourceLabel keeps metric cardinality bounded.
func resourceLabel(path string) string {
	p, _, _ := strings.Cut(path, "?")
	switch {
	case strings.HasSuffix(p, "/repos"):
		return "repos"
	case strings.HasPrefix(p, "/users/"):
		return "profile"
	default:
		return "other"
	}
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	_ = rc.Close()
}
