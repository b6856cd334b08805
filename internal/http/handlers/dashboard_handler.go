// Dashboard HTTP handlers.
//
// This file exposes the GitHub dashboard:
//   - GET  /dashboard           (current state, weak ETag support)
//   - POST /dashboard/refresh   (run one refresh cycle now)
//   - GET  /profiles/{login}    (stored profile snapshot)
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-portfolio-backend/internal/http/middleware"
	"github.com/tbourn/go-portfolio-backend/internal/services"
)

// loginRE matches GitHub logins: alphanumerics and single inner hyphens.
var loginRE = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)

// dashboardETag is the weak validator of a dashboard state. The epoch keeps
// validators from an earlier process from matching a restarted view.
func dashboardETag(st services.DashboardState) string {
	return fmt.Sprintf(`W/"dashboard-%s-%d"`, st.Epoch, st.Version)
}

// GetDashboard godoc
// @ID          getDashboard
// @Summary     Current GitHub dashboard
// @Description Returns the profile, repositories, status line and per-region errors as last rendered. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Dashboard
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"dashboard-1f0c9a2e-3\")
//
// @Success     200  {object} services.DashboardState
// @Header      200  {string} ETag  "Weak ETag of the rendered state"
// @Success     304  {string} string "Not Modified"
// @Router      /dashboard [get]
func (h *Handlers) GetDashboard(c *gin.Context) {
	st := h.d.View.State()
	c.Header("Cache-Control", "no-cache")
	if notModified(c, dashboardETag(st)) {
		return
	}
	ok(c, http.StatusOK, st)
}

// RefreshDashboard godoc
// @ID          refreshDashboard
// @Summary     Refresh the dashboard now
// @Description Runs one refresh cycle synchronously and returns the resulting state. Fresh cache entries are not refetched; failures are reported in the state's errors.
// @Tags        Dashboard
// @Produce     json
//
// @Success     200  {object} services.DashboardState
// @Failure     429  {object} handlers.ErrorResponse "Too many requests"
// @Router      /dashboard/refresh [post]
func (h *Handlers) RefreshDashboard(c *gin.Context) {
	// The cycle renders into the shared view, so a client hanging up must not
	// cancel it halfway.
	if err := h.d.Dashboard.Refresh(context.WithoutCancel(c.Request.Context())); err != nil {
		middleware.LoggerFrom(c).Info().Err(err).Msg("on-demand refresh finished with errors")
	}
	st := h.d.View.State()
	c.Header("ETag", dashboardETag(st))
	ok(c, http.StatusOK, st)
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Stored profile snapshot
// @Description Returns the profile snapshot written after the last fresh profile fetch.
// @Tags        Dashboard
// @Produce     json
//
// @Param       login  path  string  true  "GitHub login"  example(octocat)
//
// @Success     200  {object} domain.ProfileSnapshot
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "No snapshot"
// @Router      /profiles/{login} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	login := c.Param("login")
	if !loginRE.MatchString(login) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid GitHub login")
		return
	}
	snap, err := h.d.Profiles.ProfileSnapshot(c.Request.Context(), login)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, snap)
}
