package services

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-portfolio-backend/internal/github"
)

// Region is an independently rendered part of the dashboard. A failure in
// one region never clears another.
type Region string

const (
	RegionProfile Region = "profile"
	RegionRepos   Region = "repos"
	// RegionPrimary is the main content area, used for blocking errors.
	RegionPrimary Region = "primary"
)

// DashboardView receives render calls from the DashboardController.
type DashboardView interface {
	RenderProfile(p github.Profile)
	RenderRepos(repos []github.Repository)
	SetStatus(status string)
	ShowError(region Region, msg string)
	ClearError(region Region)
}

// DashboardState is what a MemoryView currently shows.
type DashboardState struct {
	Profile   *github.Profile     `json:"profile"`
	Repos     []github.Repository `json:"repos"`
	Status    string              `json:"status"`
	Errors    map[Region]string   `json:"errors,omitempty"`
	Version   uint64              `json:"version"`
	// Epoch identifies the view instance; Version restarts with it.
	Epoch     string              `json:"epoch"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// MemoryView keeps the rendered dashboard in memory for the HTTP layer.
// Epoch and Version together drive the response ETag: Version increases with
// every change and Epoch is fresh per process.
type MemoryView struct {
	mu    sync.RWMutex
	state DashboardState
	now   func() time.Time
}

// NewMemoryView returns an empty view.
func NewMemoryView() *MemoryView {
	return &MemoryView{now: time.Now, state: DashboardState{
		Errors: map[Region]string{},
		Epoch:  uuid.NewString()[:8],
	}}
}

// Render calls that do not change what is shown leave Version alone, so
// an unchanged dashboard keeps its ETag across refresh cycles.

func (v *MemoryView) RenderProfile(p github.Profile) {
	v.update(func(s *DashboardState) bool {
		if s.Profile != nil && *s.Profile == p {
			return false
		}
		s.Profile = &p
		return true
	})
}

func (v *MemoryView) RenderRepos(repos []github.Repository) {
	v.update(func(s *DashboardState) bool {
		if s.Repos != nil && slices.Equal(s.Repos, repos) {
			return false
		}
		s.Repos = append([]github.Repository{}, repos...)
		return true
	})
}

func (v *MemoryView) SetStatus(status string) {
	v.update(func(s *DashboardState) bool {
		if s.Status == status {
			return false
		}
		s.Status = status
		return true
	})
}

func (v *MemoryView) ShowError(region Region, msg string) {
	v.update(func(s *DashboardState) bool {
		if cur, ok := s.Errors[region]; ok && cur == msg {
			return false
		}
		s.Errors[region] = msg
		return true
	})
}

func (v *MemoryView) ClearError(region Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.state.Errors[region]; !ok {
		return
	}
	delete(v.state.Errors, region)
	v.bump()
}

// State returns a copy of the current state.
func (v *MemoryView) State() DashboardState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := v.state
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	s.Repos = slices.Clone(s.Repos)
	s.Errors = make(map[Region]string, len(v.state.Errors))
	for k, e := range v.state.Errors {
		s.Errors[k] = e
	}
	return s
}

func (v *MemoryView) update(fn func(*DashboardState) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if fn(&v.state) {
		v.bump()
	}
}

func (v *MemoryView) bump() {
	v.state.Version++
	v.state.UpdatedAt = v.now().UTC()
}
