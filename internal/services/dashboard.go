// Package services – DashboardController
//
// DashboardController keeps the GitHub dashboard current. Each refresh cycle
// renders whatever is cached first (stale-while-revalidate), then refetches
// only the resources whose cache entry has outlived its TTL, using the
// cached ETag so unchanged data costs a 304. Profile and repositories are
// refreshed concurrently and fail independently.
//
// Nothing is retried: a failed fetch waits for the next tick.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-portfolio-backend/internal/cache"
	"github.com/tbourn/go-portfolio-backend/internal/domain"
	"github.com/tbourn/go-portfolio-backend/internal/github"
	"github.com/tbourn/go-portfolio-backend/internal/observability"
)

// Status texts shown by the dashboard.
const (
	StatusFromCache = "Online (served from cache)"
	StatusUpdating  = "Updating GitHub data..."
	StatusOnline    = "Online"
)

// ProfileCacheKey is the cache key of username's profile.
func ProfileCacheKey(username string) string { return "gh_profile_" + username }

// ReposCacheKey is the cache key of username's repository list.
func ReposCacheKey(username string) string { return "gh_repos_" + username }

// GitHubFetcher performs conditional GETs; *github.Client implements it.
type GitHubFetcher interface {
	Fetch(ctx context.Context, path, etag string) (github.Result, error)
}

// ProfileSnapshotWriter stores the profile snapshot document.
type ProfileSnapshotWriter interface {
	PutProfileSnapshot(ctx context.Context, snap *domain.ProfileSnapshot) error
}

// DashboardOptions configures a DashboardController.
type DashboardOptions struct {
	Username   string
	PerPage    int
	ProfileTTL time.Duration
	ReposTTL   time.Duration
	Interval   time.Duration

	// SnapshotPath is where a profile snapshot is written after each fresh
	// profile fetch. Empty disables snapshots.
	SnapshotPath string
}

// DashboardController runs refresh cycles against a view.
type DashboardController struct {
	opts      DashboardOptions
	cache     *cache.Store
	client    GitHubFetcher
	view      DashboardView
	snapshots ProfileSnapshotWriter
	now       func() time.Time
	log       zerolog.Logger

	cycle sync.Mutex // one refresh cycle at a time
}

// NewDashboardController wires a controller. snapshots may be nil.
func NewDashboardController(opts DashboardOptions, c *cache.Store, client GitHubFetcher, view DashboardView, snapshots ProfileSnapshotWriter) *DashboardController {
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	return &DashboardController{
		opts:      opts,
		cache:     c,
		client:    client,
		view:      view,
		snapshots: snapshots,
		now:       time.Now,
		log:       log.With().Str("component", "dashboard").Str("username", opts.Username).Logger(),
	}
}

// WithClock replaces the controller's time source.
func (d *DashboardController) WithClock(now func() time.Time) *DashboardController {
	d.now = now
	return d
}

// String names the controller in supervisor logs.
func (d *DashboardController) String() string { return "dashboard-refresh" }

// Serve refreshes once, then on every interval tick until ctx is done.
func (d *DashboardController) Serve(ctx context.Context) error {
	d.runCycle(ctx)
	if d.opts.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(d.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.runCycle(ctx)
		}
	}
}

func (d *DashboardController) runCycle(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		d.log.Warn().Err(err).Msg("dashboard refresh finished with errors")
	}
}

// resource is one tracked dashboard resource during a cycle.
type resource struct {
	name   Region
	key    string
	path   string
	ttl    time.Duration
	entry  *cache.Entry
	render func(data json.RawMessage) error
	err    error
	// loaded reports whether the view shows data for this resource.
	loaded bool
}

// Refresh runs one cycle. The returned error joins the per-resource
// failures; the view has already been updated accordingly. Concurrent calls
// (the ticker and an on-demand refresh) run one after the other.
func (d *DashboardController) Refresh(ctx context.Context) error {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	ctx, span := otel.Tracer("services/DashboardController").Start(ctx, "Refresh",
		trace.WithAttributes(attribute.String("github.username", d.opts.Username)))
	defer span.End()

	profile := &resource{
		name:   RegionProfile,
		key:    ProfileCacheKey(d.opts.Username),
		path:   github.ProfilePath(d.opts.Username),
		ttl:    d.opts.ProfileTTL,
		render: d.renderProfile,
	}
	repos := &resource{
		name:   RegionRepos,
		key:    ReposCacheKey(d.opts.Username),
		path:   github.ReposPath(d.opts.Username, d.opts.PerPage),
		ttl:    d.opts.ReposTTL,
		render: d.renderRepos,
	}
	all := []*resource{profile, repos}

	// 1) Render whatever is cached, fresh or not.
	now := d.now()
	var stale []*resource
	for _, r := range all {
		r.entry = d.cache.Get(ctx, r.key)
		if r.entry != nil {
			if err := r.render(r.entry.Data); err != nil {
				d.log.Debug().Err(err).Str("key", r.key).Msg("dropping undecodable cache entry")
				d.cache.Remove(ctx, r.key)
				r.entry = nil
			} else {
				r.loaded = true
			}
		}
		switch {
		case r.entry == nil:
			observability.CacheLookups.WithLabelValues(string(r.name), "miss").Inc()
			stale = append(stale, r)
		case cache.IsFresh(r.entry, r.ttl, now):
			observability.CacheLookups.WithLabelValues(string(r.name), "fresh").Inc()
		default:
			observability.CacheLookups.WithLabelValues(string(r.name), "stale").Inc()
			stale = append(stale, r)
		}
	}

	// 2) Everything fresh: no network.
	if len(stale) == 0 {
		d.view.SetStatus(StatusFromCache)
		return nil
	}

	// 3) Refetch stale resources concurrently.
	d.view.SetStatus(StatusUpdating)
	var wg sync.WaitGroup
	for _, r := range stale {
		wg.Add(1)
		go func(r *resource) {
			defer wg.Done()
			r.err = d.revalidate(ctx, r)
		}(r)
	}
	wg.Wait()

	return d.settle(all)
}

// revalidate refetches one resource and updates cache and view.
func (d *DashboardController) revalidate(ctx context.Context, r *resource) error {
	res, err := d.client.Fetch(ctx, r.path, r.entry.ETagValue())
	if err != nil {
		return err
	}
	if res.NotModified {
		d.cache.Touch(ctx, r.key)
		d.view.ClearError(r.name)
		return nil
	}
	if err := r.render(res.Data); err != nil {
		return domain.Upstream(0, fmt.Errorf("decode %s: %w", r.name, err))
	}
	r.loaded = true
	d.cache.Put(ctx, r.key, res.Data, res.ETag)
	d.view.ClearError(r.name)
	if r.name == RegionProfile {
		d.writeSnapshot(ctx, res.Data)
	}
	return nil
}

// settle sets the status text from the cycle's outcome.
func (d *DashboardController) settle(all []*resource) error {
	var (
		errs      []error
		limited   bool
		resetAt   time.Time
		hasCached bool
	)
	for _, r := range all {
		hasCached = hasCached || r.loaded
		if r.err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
		if at, ok := domain.ResetAtOf(r.err); ok {
			limited = true
			if at.After(resetAt) {
				resetAt = at
			}
		}
	}

	if limited {
		when := resetAt.UTC().Format(time.RFC3339)
		if hasCached {
			d.view.SetStatus("Rate limited. Showing cached data until " + when)
		} else {
			msg := "GitHub API limit reached. Try again at " + when
			d.view.ShowError(RegionPrimary, msg)
			d.view.SetStatus(msg)
		}
	}
	for _, r := range all {
		if r.err != nil && domain.KindOf(r.err) != domain.KindRateLimited {
			d.view.ShowError(r.name, r.err.Error())
			if !limited {
				d.view.SetStatus("Error: " + r.err.Error())
			}
		}
	}
	if len(errs) == 0 {
		d.view.ClearError(RegionPrimary)
		d.view.SetStatus(StatusOnline)
		return nil
	}
	if hasCached {
		d.view.ClearError(RegionPrimary)
	}
	return errors.Join(errs...)
}

func (d *DashboardController) renderProfile(data json.RawMessage) error {
	var p github.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	d.view.RenderProfile(p)
	return nil
}

func (d *DashboardController) renderRepos(data json.RawMessage) error {
	var repos []github.Repository
	if err := json.Unmarshal(data, &repos); err != nil {
		return err
	}
	d.view.RenderRepos(repos)
	return nil
}

func (d *DashboardController) writeSnapshot(ctx context.Context, data json.RawMessage) {
	if d.snapshots == nil || d.opts.SnapshotPath == "" {
		return
	}
	var p github.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	snap := &domain.ProfileSnapshot{
		Path:            d.opts.SnapshotPath,
		Login:           p.Login,
		Name:            p.Name,
		Bio:             p.Bio,
		AvatarURL:       p.AvatarURL,
		HTMLURL:         p.HTMLURL,
		PublicRepos:     p.PublicRepos,
		Followers:       p.Followers,
		Following:       p.Following,
		GitHubUpdatedAt: p.UpdatedAt,
		SyncedAt:        d.now().UTC(),
	}
	if err := d.snapshots.PutProfileSnapshot(ctx, snap); err != nil {
		d.log.Warn().Err(err).Str("path", snap.Path).Msg("profile snapshot write failed")
	}
}
