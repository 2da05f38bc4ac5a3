package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "leaderlite/cmd/internal/auth/api"
	"leaderlite/cmd/internal/auth/session"
	"leaderlite/cmd/internal/board"
	"leaderlite/cmd/internal/realtime"
	"leaderlite/cmd/internal/request"
	"leaderlite/cmd/internal/web"
	"leaderlite/cmd/member"
	"leaderlite/cmd/security/password"
)

// dbSchema is the Postgres schema all stores live in.
const dbSchema = "leaderlite"

// App wires the stores, services and HTTP surface together.
//
// With no database URL configured everything runs on in-memory stores,
// which is the dev mode the templates and tests use.
type App struct {
	cfg Config
	log *slog.Logger

	pool    *pgxpool.Pool
	hub     *realtime.Hub
	metrics *Metrics

	handler http.Handler
}

func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: NewMetrics(),
	}

	var (
		members      member.Store
		requestStore request.Store
		sessionStore session.Store
	)

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.pool = pool

		members, err = member.NewPostgresStore(pool, log, member.WithSchema(dbSchema))
		if err != nil {
			a.Close()
			return nil, err
		}
		requestStore, err = request.NewPostgresStore(pool, log, request.WithSchema(dbSchema))
		if err != nil {
			a.Close()
			return nil, err
		}
		sessionStore, err = session.NewPostgresStore(pool, session.WithSchema(dbSchema))
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Warn("no database configured, using in-memory stores")
		memMembers := member.NewMemoryStore(log)
		members = memMembers

		var err error
		requestStore, err = request.NewMemoryStore(log, memMembers)
		if err != nil {
			return nil, err
		}
		sessionStore = session.NewMemoryStore()
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session config: %w", err)
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session tokens: %w", err)
	}
	sessions := session.NewService(sessCfg, sessionStore, tokens)

	pwCfg, err := password.FromEnv()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("password config: %w", err)
	}

	a.hub = realtime.NewHub(log)

	requests, err := request.NewService(log, requestStore,
		request.WithNotifier(a.hub),
		request.WithMetrics(a.metrics.Registry()),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	var authOpts []authapi.HandlerOption
	if a.pool != nil {
		authOpts = append(authOpts, authapi.WithAuditor(authapi.NewAuditor(log, a.pool, dbSchema)))
	}
	authHandler, err := authapi.NewHandler(log, authCfg, members, sessions, pwCfg, authOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	identity := authHandler.Identity()

	boardHandler, err := board.NewHandler(log, identity, members, requests)
	if err != nil {
		a.Close()
		return nil, err
	}
	webHandler, err := web.NewHandler(log, identity, members, requests)
	if err != nil {
		a.Close()
		return nil, err
	}
	gateway, err := realtime.NewWSGateway(log, a.hub, sessions, members, identity,
		request.TopicRequests, request.TopicLeaderboard)
	if err != nil {
		a.Close()
		return nil, err
	}

	mux := a.routes(authHandler, boardHandler, webHandler, gateway)
	a.handler = WithCORS(WithRequestLogging(mux, log, a.metrics), cfg, log)

	return a, nil
}

// Handler returns the fully wired HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is cancelled, then drains gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("graceful shutdown failed", "err", err)
		_ = srv.Close()
	}
	a.Close()
	return nil
}

// Close releases held resources. Safe to call more than once.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
