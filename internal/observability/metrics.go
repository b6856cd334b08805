package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// GitHubFetches counts conditional fetches by resource (profile, repos,
	// other) and outcome (ok, not_modified, locked, rate_limited, not_found,
	// upstream_error, error).
	GitHubFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_fetch_total",
			Help: "Conditional GitHub API fetches by resource and outcome.",
		},
		[]string{"resource", "outcome"},
	)

	// CacheLookups counts dashboard cache reads by resource and result
	// (fresh, stale, miss).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_cache_lookups_total",
			Help: "Dashboard cache lookups by resource and result.",
		},
		[]string{"resource", "result"},
	)

	// ChatMessages counts persisted chat messages by sender.
	ChatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages written, by sender.",
		},
		[]string{"sender"},
	)

	// Subscriptions gauges open live-query subscriptions.
	Subscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions",
			Help: "Currently open live-query subscriptions.",
		},
	)
)

func init() {
	prometheus.MustRegister(GitHubFetches, CacheLookups, ChatMessages, Subscriptions)
}
