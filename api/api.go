// Package api serves the landscape read endpoints over HTTP.
//
// Routes are declared once in Routes and mounted on a gorilla/mux router.
// Every route passes through panic recovery, request ID and logging,
// admission control and, when enabled, per-client rate limiting.
//
//	@title			ExplorViz Persistence API
//	@version		2.0
//	@description	Read access to landscape structure, traces and commit history.
//
// @BasePath	/
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"explorviz/config"
	"explorviz/core"
	_ "explorviz/docs"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// LandscapeReader is the read side of the graph store.
type LandscapeReader interface {
	Ping(ctx context.Context) error
	Timestamps(ctx context.Context, token string) ([]core.Timestamp, error)
	Structure(ctx context.Context, token string) ([]core.Application, error)
	Repositories(ctx context.Context, token string) ([]string, error)
	LatestCommit(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error)
	StaticApplications(ctx context.Context, token string) ([]string, error)
	CommitTree(ctx context.Context, token, application string) (*core.CommitTree, error)
}

// API holds the REST server
type API struct {
	router    *mux.Router
	server    *http.Server
	listener  net.Listener
	store     LandscapeReader
	config    config.RESTConfig
	admission *core.Admission
	limiter   *RateLimiter
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewAPI creates the REST surface. redis may be nil; it is only used for
// distributed rate limiting.
func NewAPI(store LandscapeReader, cfg config.RESTConfig, redis *core.RedisCache, logger *zap.SugaredLogger) *API {
	a := &API{
		router:    mux.NewRouter(),
		store:     store,
		config:    cfg,
		admission: core.NewAdmission("rest"),
		logger:    logger,
		now:       time.Now,
	}
	if cfg.RateLimit.Enabled {
		a.limiter = NewRateLimiter(cfg.RateLimit, redis, logger)
	}
	a.setupRoutes()
	return a
}

// setupRoutes mounts the route table and the middleware chain.
func (a *API) setupRoutes() {
	a.router.Use(a.recoveryMiddleware)
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.admissionMiddleware)
	if a.limiter != nil {
		a.router.Use(a.rateLimitMiddleware)
	}

	for _, route := range a.Routes() {
		if route.Prefix {
			a.router.PathPrefix(route.Path).Handler(route.Handler).Methods(route.Method).Name(route.Name)
			continue
		}
		a.router.Handle(route.Path, route.Handler).Methods(route.Method).Name(route.Name)
	}

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the fully wired router.
func (a *API) Handler() http.Handler {
	return a.router
}

// Listen binds the configured address without serving yet.
func (a *API) Listen() error {
	lis, err := net.Listen("tcp", a.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.config.Addr(), err)
	}
	a.listener = lis
	a.server = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (a *API) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Serve blocks serving requests until Stop. It returns nil after a clean stop.
func (a *API) Serve() error {
	if a.server == nil {
		return errors.New("rest server is not listening")
	}
	a.logger.Infow("REST server listening", "addr", a.Addr())
	if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve rest: %w", err)
	}
	return nil
}

// Stop rejects new requests, waits for in-flight ones until ctx ends and
// then closes remaining connections. It returns ctx's error if the drain
// was cut short.
func (a *API) Stop(ctx context.Context) error {
	a.admission.Close()
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.server == nil {
		if a.listener != nil {
			return a.listener.Close()
		}
		return nil
	}

	drainErr := a.admission.Wait(ctx)
	defer a.listener.Close()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warnw("REST server did not drain in time, closing connections", "error", err)
		_ = a.server.Close()
		return err
	}
	return drainErr
}

// InFlight returns the number of requests currently being handled.
func (a *API) InFlight() int {
	return a.admission.InFlight()
}
