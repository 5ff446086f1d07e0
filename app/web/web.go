// Package web implements the status and control http server of pipecron
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/solarray/pipecron/app/crontab"
	"github.com/solarray/pipecron/app/web/persistence"
)

//go:generate moq -out mocks/scheduler.go -pkg mocks -skip-ensure -fmt goimports . Scheduler

const (
	defaultMaxHistory = 100
	basicAuthUser     = "pipecron"
)

// Scheduler provides the active table and job states
type Scheduler interface {
	Table() *crontab.Table
	Running(jobID string) bool
	Reload(ctx context.Context) error
}

// Server represents the web server
type Server struct {
	store        *persistence.SQLiteStore
	scheduler    Scheduler
	version      string
	hostname     string
	passwordHash string // bcrypt hash for basic auth, no auth if empty
	maxHistory   int    // executions kept per job
	reloadRate   float64
}

// Config holds server configuration
type Config struct {
	DBPath       string
	Scheduler    Scheduler
	Version      string
	Hostname     string
	PasswordHash string
	MaxHistory   int
	ReloadRate   float64 // reload requests per second, 1 if not set
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("web server initialization failed: scheduler is required")
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to create SQLite store at %q: %w", cfg.DBPath, err)
	}

	res := &Server{
		store:        store,
		scheduler:    cfg.Scheduler,
		version:      cfg.Version,
		hostname:     cfg.Hostname,
		passwordHash: cfg.PasswordHash,
		maxHistory:   cfg.MaxHistory,
		reloadRate:   cfg.ReloadRate,
	}
	if res.maxHistory <= 0 {
		res.maxHistory = defaultMaxHistory
	}
	if res.reloadRate <= 0 {
		res.reloadRate = 1
	}
	return res, nil
}

// Run starts the web server, blocks until ctx is done
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
		if err := s.store.Close(); err != nil {
			log.Printf("[WARN] failed to close history store: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("pipecron", "solarray", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// must be set before any route is defined
	if s.passwordHash != "" {
		log.Printf("[INFO] basic authentication enabled for api")
		router.Use(s.authMiddleware)
	}

	reloadLimiter := tollbooth.NewLimiter(s.reloadRate, nil)
	reloadLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("GET /status", s.handleAPIStatus)
		api.HandleFunc("GET /jobs/{id}/history", s.handleAPIJobHistory)
		api.HandleFunc("GET /jobs/{id}/executions/{exec_id}/logs", s.handleAPIExecutionLogs)
		api.With(tollbooth.HTTPMiddleware(reloadLimiter)).HandleFunc("POST /reload", s.handleAPIReload)
	})

	return router
}
