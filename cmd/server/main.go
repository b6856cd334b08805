// Command server runs the portfolio backend: the GitHub dashboard with its
// conditional-request cache and the live visitor/admin chat.
//
// Startup order:
//  1. Configuration (.env + environment) and logging
//  2. Tracing (OTLP, optional)
//  3. SQLite and the local key-value store
//  4. Chat storage, sessions and the dashboard controller
//  5. HTTP routes, then the supervisor tree (HTTP server + refresh loop)
//
// SIGINT/SIGTERM cancel the tree; the server drains within its timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-portfolio-backend/internal/auth"
	"github.com/tbourn/go-portfolio-backend/internal/cache"
	"github.com/tbourn/go-portfolio-backend/internal/config"
	"github.com/tbourn/go-portfolio-backend/internal/docstore"
	"github.com/tbourn/go-portfolio-backend/internal/github"
	httpapi "github.com/tbourn/go-portfolio-backend/internal/http"
	"github.com/tbourn/go-portfolio-backend/internal/http/handlers"
	"github.com/tbourn/go-portfolio-backend/internal/kv"
	"github.com/tbourn/go-portfolio-backend/internal/observability"
	"github.com/tbourn/go-portfolio-backend/internal/realtime"
	"github.com/tbourn/go-portfolio-backend/internal/repo"
	"github.com/tbourn/go-portfolio-backend/internal/services"
	"github.com/tbourn/go-portfolio-backend/internal/supervisor"
	"github.com/tbourn/go-portfolio-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty)
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	shutdownOTel, err := observability.InitTracing(ctx, cfg.OTEL, version,
		observability.AttrGitHubUser.String(cfg.GitHub.Username))
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	local, closeLocal, err := openLocal(cfg, db)
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	defer closeLocal()

	feed := realtime.NewFeed()
	defer func() { _ = feed.Close() }()
	store := docstore.New(db, feed)

	issuer, err := auth.NewIssuer(cfg.Chat.SessionSecret, cfg.Chat.SessionTTL)
	if err != nil {
		return fmt.Errorf("session issuer: %w", err)
	}
	allow := auth.NewAllowList(cfg.Chat.AdminEmails)
	if allow.Len() == 0 {
		log.Warn().Msg("ADMIN_EMAILS is empty; nobody can open the admin console")
	}

	gh := cfg.GitHub
	client := github.NewClient(github.Options{
		BaseURL:   gh.BaseURL,
		UserAgent: gh.UserAgent,
		Token:     gh.Token,
		Timeout:   gh.Timeout,
	}, github.NewRateGuard(local, gh.Username))
	view := services.NewMemoryView()
	dashboard := services.NewDashboardController(services.DashboardOptions{
		Username:     gh.Username,
		PerPage:      gh.PerPage,
		ProfileTTL:   gh.ProfileTTL,
		ReposTTL:     gh.ReposTTL,
		Interval:     gh.RefreshInterval,
		SnapshotPath: cfg.ProfileSnapshotPath,
	}, cache.New(local), client, view, store)

	h := handlers.New(handlers.Deps{
		Dashboard: dashboard,
		View:      view,
		Profiles:  store,
		Sessions:  issuer,
		Google:    auth.NewGoogleVerifier(cfg.Chat.GoogleClientID),
		Chats:     store,
		ChatStore: store,
		Local:     local,
		Allow:     allow,
		Visitor: services.VisitorOptions{
			HistoryLimit:    cfg.Chat.VisitorLimit,
			MaxMessageRunes: cfg.Chat.MaxMessageRunes,
		},
		Admin: services.AdminOptions{
			ListLimit:       cfg.Chat.ChatListLimit,
			HistoryLimit:    cfg.Chat.AdminLimit,
			MaxMessageRunes: cfg.Chat.MaxMessageRunes,
		},
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	r := gin.New()
	httpapi.RegisterRoutes(r, h, issuer, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	tree := supervisor.NewDefaultTree()
	tree.AddAPIService(supervisor.NewHTTPService(srv, 10*time.Second))
	tree.AddJob(dashboard)

	log.Info().
		Str("addr", srv.Addr).
		Str("version", version).
		Str("github_user", gh.Username).
		Str("kv_backend", cfg.KVBackend).
		Msg("server starting")
	return tree.Serve(ctx)
}

// openLocal selects the local key-value backend. With "none" every read and
// write fails, which the cache, rate guard and visitor sessions tolerate.
func openLocal(cfg config.Config, db *gorm.DB) (kv.Store, func(), error) {
	switch cfg.KVBackend {
	case "badger":
		b, err := kv.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("badger close failed")
			}
		}, nil
	case "none":
		log.Warn().Msg("local key-value store disabled; responses are not cached and devices do not resume chats")
		return kv.Unavailable{}, func() {}, nil
	default:
		return kv.NewSQLStore(db), func() {}, nil
	}
}
