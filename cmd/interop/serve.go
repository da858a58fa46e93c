package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/suas/interop/auth"
	"github.com/suas/interop/config"
	"github.com/suas/interop/log"
	"github.com/suas/interop/missions"
	"github.com/suas/interop/notify"
	"github.com/suas/interop/rbac"
	"github.com/suas/interop/storage"
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  `Open the mission store, ensure its schema and serve the mission API.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	lg := log.New(cfg.LogLevel, cfg.LogDir)
	slog.SetDefault(lg.Logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = config.DevSessionSecret
		lg.Warn("SESSION_SECRET not set, using development fallback")
	}
	sessions, err := auth.NewSessionManager(sessionSecret, cfg.SecureCookie)
	if err != nil {
		return fmt.Errorf("configure sessions: %w", err)
	}

	resolver := missions.NewResolver(db, missions.NewCache(cfg.ActiveCacheSize, cfg.ActiveCacheTTL), lg.Logger)

	var notifier missions.Notifier
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL, lg.Logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		sub, err := nc.OnMissionChanged(func(ev notify.MissionEvent) {
			lg.Debug("mission changed elsewhere", slog.Int64("mission", ev.MissionID), slog.String("origin", ev.Origin))
			resolver.InvalidateActive()
		})
		if err != nil {
			return fmt.Errorf("subscribe mission events: %w", err)
		}
		defer sub.Unsubscribe()
		notifier = nc
	}

	router := newRouter(routerDeps{
		store:    db,
		resolver: resolver,
		sessions: sessions,
		notifier: notifier,
		logger:   lg.Logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", slog.String("addr", srv.Addr), slog.Bool("sqlite", isSQLite(cfg.DatabaseURL)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routerDeps struct {
	store    missions.Store
	resolver *missions.Resolver
	sessions *auth.SessionManager
	notifier missions.Notifier
	logger   *slog.Logger
}

func newRouter(deps routerDeps) chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Use(deps.sessions.Middleware)

	router.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	enforcer := rbac.NewEnforcer(auth.Roles)

	router.Mount("/api/auth", auth.NewHandler(deps.sessions, enforcer).Routes())
	router.Mount("/api/missions", missions.NewHandler(deps.store, deps.resolver, enforcer, deps.notifier, deps.logger).Routes())
	return router
}

func isSQLite(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "sqlite://")
}
