// Package config provides application configuration loaded from environment
// variables (optionally seeded from a .env file) with defaults, normalization
// and validation. It centralizes server timeouts, logging, storage, GitHub
// dashboard settings, chat settings, rate limiting and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// MinRefresh is the floor applied to the refresh interval and cache TTLs.
const MinRefresh = time.Minute

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration `validate:"gte=0"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  `validate:"required"`      // OTEL_SERVICE_NAME
	SampleRatio float64 `validate:"gte=0,lte=1"`   // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// GitHubConfig configures the dashboard's upstream and its cache policy.
type GitHubConfig struct {
	Username        string        `validate:"required,max=39"` // GITHUB_USERNAME
	Token           string        // GITHUB_TOKEN, optional bearer
	BaseURL         string        `validate:"required,url"`     // GITHUB_API_URL
	UserAgent       string        `validate:"required"`         // GITHUB_USER_AGENT
	PerPage         int           `validate:"gte=1,lte=100"`    // GITHUB_PER_PAGE
	RefreshInterval time.Duration // GITHUB_REFRESH_INTERVAL, floored at MinRefresh
	ProfileTTL      time.Duration // GITHUB_PROFILE_TTL, floored at MinRefresh
	ReposTTL        time.Duration // GITHUB_REPOS_TTL, floored at MinRefresh
	Timeout         time.Duration `validate:"gt=0"` // GITHUB_TIMEOUT
}

// ChatConfig configures the visitor chat and the admin console.
type ChatConfig struct {
	AdminEmails     []string      // ADMIN_EMAILS (CSV allow-list)
	GoogleClientID  string        // GOOGLE_CLIENT_ID, audience of admin ID tokens
	SessionSecret   string        `validate:"required,min=16"` // SESSION_SECRET
	SessionTTL      time.Duration `validate:"gt=0"`            // SESSION_TTL
	VisitorLimit    int           `validate:"gte=1,lte=1000"`  // CHAT_VISITOR_LIMIT
	AdminLimit      int           `validate:"gte=1,lte=1000"`  // CHAT_ADMIN_LIMIT
	ChatListLimit   int           `validate:"gte=1,lte=1000"`  // CHAT_LIST_LIMIT
	MaxMessageRunes int           `validate:"gte=1"`           // CHAT_MAX_MESSAGE_RUNES
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `validate:"required"` // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           `validate:"gt=0"`
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string `validate:"oneof=debug info warn error fatal panic"`
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath    string `validate:"required"`                   // SQLite path
	KVBackend string `validate:"oneof=sqlite badger none"`   // local key-value backend
	BadgerDir string `validate:"required_if=KVBackend badger"` // badger directory

	// Profile snapshot document path ("" disables snapshots)
	ProfileSnapshotPath string

	GitHub GitHubConfig
	Chat   ChatConfig

	// Rate limiting
	RateRPS   float64 `validate:"gte=0"` // tokens per second
	RateBurst int     `validate:"gte=1"` // bucket size

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// InitError is returned by Load when configuration cannot be used.
type InitError struct {
	Field  string
	Reason string
}

func (e *InitError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables (after loading a .env
// file when one exists), applies defaults, normalizes values, and validates
// the result. Failures are reported as *InitError.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, &InitError{Field: ".env", Reason: err.Error()}
	}

	username := getenv("GITHUB_USERNAME", "octocat")
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:    getenv("DB_PATH", "app.db"),
		KVBackend: strings.ToLower(getenv("KV_BACKEND", "sqlite")),
		BadgerDir: getenv("BADGER_DIR", ""),

		ProfileSnapshotPath: getenvAllowEmpty("PROFILE_SNAPSHOT_PATH", "profiles/"+username),

		GitHub: GitHubConfig{
			Username:        username,
			Token:           getenv("GITHUB_TOKEN", ""),
			BaseURL:         strings.TrimRight(getenv("GITHUB_API_URL", "https://api.github.com"), "/"),
			UserAgent:       getenv("GITHUB_USER_AGENT", "go-portfolio-backend"),
			PerPage:         getint("GITHUB_PER_PAGE", 100),
			RefreshInterval: getdur("GITHUB_REFRESH_INTERVAL", 5*time.Minute),
			ProfileTTL:      getdur("GITHUB_PROFILE_TTL", 15*time.Minute),
			ReposTTL:        getdur("GITHUB_REPOS_TTL", 30*time.Minute),
			Timeout:         getdur("GITHUB_TIMEOUT", 10*time.Second),
		},

		Chat: ChatConfig{
			AdminEmails:     splitCSV(getenv("ADMIN_EMAILS", "")),
			GoogleClientID:  getenv("GOOGLE_CLIENT_ID", ""),
			SessionSecret:   getenv("SESSION_SECRET", ""),
			SessionTTL:      getdur("SESSION_TTL", 30*24*time.Hour),
			VisitorLimit:    getint("CHAT_VISITOR_LIMIT", 100),
			AdminLimit:      getint("CHAT_ADMIN_LIMIT", 200),
			ChatListLimit:   getint("CHAT_LIST_LIMIT", 50),
			MaxMessageRunes: getint("CHAT_MAX_MESSAGE_RUNES", 2000),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-portfolio-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.GitHub.RefreshInterval = floor(cfg.GitHub.RefreshInterval, MinRefresh)
	cfg.GitHub.ProfileTTL = floor(cfg.GitHub.ProfileTTL, MinRefresh)
	cfg.GitHub.ReposTTL = floor(cfg.GitHub.ReposTTL, MinRefresh)
	for i, e := range cfg.Chat.AdminEmails {
		cfg.Chat.AdminEmails[i] = strings.ToLower(e)
	}

	// --- validation ---
	if err := validate.Struct(cfg); err != nil {
		return cfg, toInitError(err)
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, &InitError{Reason: "timeouts must be positive durations"}
	}

	return cfg, nil
}

// toInitError reports the first failing field of a validator error.
func toInitError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &InitError{Field: fe.Namespace(), Reason: "failed '" + fe.Tag() + "' validation"}
	}
	return &InitError{Reason: err.Error()}
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// getenvAllowEmpty distinguishes an explicitly empty variable from an unset one.
func getenvAllowEmpty(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func floor(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
