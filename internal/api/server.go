package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/chatgate-core/internal/audit"
	"github.com/nerrad567/chatgate-core/internal/auth"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/config"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
	"github.com/nerrad567/chatgate-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Auth    *auth.Service
	Audit   audit.Repository // optional: /me/activity is only mounted when set
	DB      *database.DB     // optional: health reports database and schema state
	Metrics *Metrics         // optional: /metrics is only mounted when set
	Version string

	// Checks are optional event brokers (MQTT, InfluxDB) whose state the
	// health endpoint reports by name. A failing check never fails health.
	Checks map[string]HealthChecker
}

// HealthChecker is a dependency the health endpoint can check.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP API server for Chatgate Core.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	auth    *auth.Service
	audit   audit.Repository
	db      *database.DB
	checks  map[string]HealthChecker
	metrics *Metrics
	version string
	server  *http.Server
	started time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}

	cfg := deps.Config
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = defaultRefreshCookie
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}

	return &Server{
		cfg:     cfg,
		logger:  deps.Logger,
		auth:    deps.Auth,
		audit:   deps.Audit,
		db:      deps.DB,
		checks:  deps.Checks,
		metrics: deps.Metrics,
		version: deps.Version,
		started: time.Now(),
	}, nil
}

// Handler returns the fully wired router. Useful for embedding the API in
// another server and for tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
