// Package server provides the HTTP API of provisiond.
//
// The server exposes a REST API to start, observe and cancel provisioning
// attempts, replay or persist resume entries and run the system update
// check on demand.
//
// # Endpoints
//
//   - GET /health - Health check, returns "ok" until the service closes
//   - GET /config - Returns the running configuration as YAML
//   - GET /metrics - Prometheus metrics, when a handler is configured
//   - GET /api/v1/overview - Attempts of every target, build and schedule
//   - POST /api/v1/provision - Starts an attempt from a params.Request body
//   - GET /api/v1/status - Latest attempt of every target
//   - GET /api/v1/status/:target - Latest attempt of one target
//   - GET /api/v1/logs/:target - Captured task logs of a target's attempt
//   - POST /api/v1/cancel/:target - Cancels a target's attempt
//   - POST /api/v1/remind/:target - Persists a running attempt for resume
//   - GET /api/v1/history - Attempts that ended, most recent first
//   - GET /api/v1/history/:id - One past attempt with its task logs
//   - POST /api/v1/sysupdate - Runs the system update check now
//
// Targets are device_owner and profile_owner. With an API key configured
// every /api/v1 endpoint requires HTTP basic auth. WithTLS serves the API
// over HTTPS.
//
// # Example
//
//	srv, err := server.New(svc, server.WithListenAddr(":8080"), server.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/flow"
	"github.com/google/uuid"
	"github.com/nomis52/provisiond/config"
	"github.com/nomis52/provisiond/server/handlers"
	"github.com/nomis52/provisiond/sysupdate"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"

	apiPrefix   = "/api/v1"
	apiUsername = "provisiond"
	apiRealm    = "provisiond"
)

// Service is what the server exposes over HTTP.
type Service interface {
	handlers.Provisioner
	handlers.AttemptController
	handlers.StatusProvider
	handlers.HistoryProvider
	Ready() error
}

// Server is the HTTP server of provisiond.
type Server struct {
	addr       string
	apiKey     string
	logger     *slog.Logger
	svc        Service
	cfg        *config.Config
	checker    handlers.SystemUpdateChecker
	trigger    *sysupdate.Trigger
	metrics    http.Handler
	certs      *certLoader
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithConfig serves cfg on /config.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

// WithAPIKey requires HTTP basic auth with the given password on the API.
func WithAPIKey(key string) Option {
	return func(s *Server) error {
		if key == "" {
			return errors.New("empty API key")
		}
		s.apiKey = key
		return nil
	}
}

// WithSystemUpdate serves the on-demand check. A non-nil trigger is
// started by Run.
func WithSystemUpdate(checker handlers.SystemUpdateChecker, trigger *sysupdate.Trigger) Option {
	return func(s *Server) error {
		if checker == nil {
			return errors.New("system update checker is required")
		}
		s.checker = checker
		s.trigger = trigger
		return nil
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metrics = h
		return nil
	}
}

// WithTLS serves the API over HTTPS. A renewed certificate is picked up
// within a minute.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) error {
		certs, err := newCertLoader(certFile, keyFile, s.logger)
		if err != nil {
			return err
		}
		s.certs = certs
		return nil
	}
}

// New creates a new Server for svc.
func New(svc Service, opts ...Option) (*Server, error) {
	s := &Server{
		addr:   defaultListenAddr,
		logger: slog.Default(),
		svc:    svc,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "server")
	return s, nil
}

// Config returns the configuration served on /config.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// NextRun returns the next scheduled system update check.
func (s *Server) NextRun() time.Time {
	return s.trigger.NextRun()
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := flow.New()
	s.registerRoutes(mux)
	return s.logRequests(mux)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
// If a system update trigger is configured, it will be started
// automatically.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	if s.certs != nil {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.certs.GetCertificate,
		}
	}

	if s.trigger != nil {
		s.logger.Info("starting system update trigger", "next_run", s.trigger.NextRun())
		s.trigger.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr, "tls", s.certs != nil)
		var err error
		if s.certs != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *flow.Mux) {
	mux.Handle("/health", handlers.NewHealthHandler(s.svc.Ready), http.MethodGet)
	if s.cfg != nil {
		mux.Handle("/config", handlers.NewConfigHandler(s.logger, s), http.MethodGet)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics, http.MethodGet)
	}

	mux.Group(func(mux *flow.Mux) {
		if s.apiKey != "" {
			mux.Use(s.basicAuth)
		}

		var scheduler handlers.Scheduler
		if s.trigger != nil {
			scheduler = s
		}
		mux.Handle(apiPrefix+"/overview", handlers.NewAPIStatusHandler(s.svc, scheduler), http.MethodGet)
		mux.Handle(apiPrefix+"/provision", handlers.NewProvisionHandler(s.logger, s.svc), http.MethodPost)
		mux.Handle(apiPrefix+"/status", handlers.NewStatusesHandler(s.svc), http.MethodGet)
		mux.Handle(apiPrefix+"/status/:target", handlers.NewStatusHandler(s.svc), http.MethodGet)
		mux.Handle(apiPrefix+"/logs/:target", handlers.NewLogsHandler(s.svc), http.MethodGet)
		mux.Handle(apiPrefix+"/cancel/:target", handlers.NewCancelHandler(s.logger, s.svc), http.MethodPost)
		mux.Handle(apiPrefix+"/remind/:target", handlers.NewRemindHandler(s.logger, s.svc), http.MethodPost)
		mux.Handle(apiPrefix+"/history", handlers.NewHistoryHandler(s.svc), http.MethodGet)
		mux.Handle(apiPrefix+"/history/:id", handlers.NewAttemptHandler(s.svc), http.MethodGet)
		if s.checker != nil {
			mux.Handle(apiPrefix+"/sysupdate", handlers.NewSystemUpdateHandler(s.logger, s.checker), http.MethodPost)
		}
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(apiUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.apiKey)) != 1 {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", apiRealm))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request served",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
