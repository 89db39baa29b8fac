package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/tallycrm/tally/internal/handler"
	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/openapi"
	"github.com/tallycrm/tally/internal/server/middleware"
	"github.com/tallycrm/tally/internal/service"
	"github.com/tallycrm/tally/internal/store"
	"github.com/tallycrm/tally/internal/telemetry"
	"github.com/tallycrm/tally/internal/ui"
)

// loginRequestsPerMinute caps password attempts per client IP.
const loginRequestsPerMinute = 20

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	EnableUI          bool
	APIKeyHeader      string
	RequestsPerMinute int // per client IP and per principal; zero disables rate limiting
	ApprovalThreshold decimal.Decimal
	RefreshInterval   time.Duration // pipeline gauge refresh
	Version           string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		EnableUI:          true,
		APIKeyHeader:      middleware.DefaultAPIKeyHeader,
		RequestsPerMinute: 600,
		ApprovalThreshold: decimal.NewFromInt(10000),
		RefreshInterval:   telemetry.DefaultRefreshInterval,
	}
}

// Server is the top-level HTTP server for Tally. It owns the chi router, the
// CRM store, the authentication service and, when metrics are enabled, the
// pipeline gauge tracker.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	metrics    *telemetry.Metrics
	tracker    *telemetry.Tracker
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server and wires up all routes and middleware. A nil
// metrics disables /metrics and the pipeline gauges. Call ListenAndServe or
// Serve to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = middleware.DefaultAPIKeyHeader
	}
	s := &Server{
		cfg:     cfg,
		store:   st,
		authSvc: authSvc,
		metrics: metrics,
		tracker: telemetry.NewTracker(metrics, st, cfg.RefreshInterval, logger),
		logger:  logger,
	}
	if metrics != nil {
		authSvc.Recorder().OnError(func(error) { metrics.KeyTouchErrors.Inc() })
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// Unauthenticated
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Get("/openapi.json", handler.NewOpenAPIHandler(openapi.Options{
		APIKeyHeader: s.cfg.APIKeyHeader,
		Version:      s.cfg.Version,
	}).ServeSpec)

	sys := handler.NewSystemHandler(s.store, s.authSvc, s.logger)
	deals := handler.NewDealHandler(s.store, s.cfg.ApprovalThreshold, s.logger)
	contacts := handler.NewContactHandler(s.store, s.logger)
	activities := handler.NewActivityHandler(s.store, s.logger)
	campaigns := handler.NewCampaignHandler(s.store, s.logger)
	approvals := handler.NewApprovalHandler(s.store, s.logger)
	pipe := handler.NewPipelineHandler(s.store, s.logger)

	authCfg := middleware.AuthConfig{Header: s.cfg.APIKeyHeader, Logger: s.logger}
	if s.metrics != nil {
		authCfg.OnFailure = func(reason string) { s.metrics.AuthFailures.WithLabelValues(reason).Inc() }
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(middleware.RateLimit(s.cfg.RequestsPerMinute))
		}

		r.With(middleware.RateLimit(loginRequestsPerMinute)).Post("/session", sys.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc, authCfg))
			if s.cfg.RequestsPerMinute > 0 {
				r.Use(middleware.RateLimitByPrincipal(s.cfg.RequestsPerMinute))
			}

			r.Delete("/session", sys.Logout)
			r.Get("/me", sys.Me)
			r.Get("/me/api-key", sys.ListMyAPIKeys)
			r.Post("/me/api-key", sys.CreateMyAPIKey)
			r.Delete("/me/api-key/{keyId}", sys.RevokeMyAPIKey)

			r.Route("/system", func(r chi.Router) {
				r.Use(middleware.RequireRole(model.RoleAdmin))
				r.Get("/user", sys.ListUsers)
				r.Post("/user", sys.CreateUser)
				r.Get("/api-key", sys.ListAPIKeys)
				r.Post("/api-key", sys.CreateAPIKey)
				r.Delete("/api-key/{keyId}", sys.RevokeAPIKey)
			})

			r.Route("/deals", func(r chi.Router) {
				r.Get("/", deals.ListDeals)
				r.Post("/", deals.CreateDeal)
				r.Get("/{id}", deals.GetDeal)
				r.Put("/{id}", deals.UpdateDeal)
				r.Delete("/{id}", deals.DeleteDeal)
				r.Post("/{id}/move", deals.MoveDeal)
			})

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", contacts.ListContacts)
				r.Post("/", contacts.CreateContact)
				r.Get("/{id}", contacts.GetContact)
				r.Put("/{id}", contacts.UpdateContact)
				r.Delete("/{id}", contacts.DeleteContact)
			})

			r.Route("/companies", func(r chi.Router) {
				r.Get("/", contacts.ListCompanies)
				r.Post("/", contacts.CreateCompany)
				r.Get("/{id}", contacts.GetCompany)
				r.Put("/{id}", contacts.UpdateCompany)
				r.Delete("/{id}", contacts.DeleteCompany)
			})

			r.Route("/activities", func(r chi.Router) {
				r.Get("/", activities.ListActivities)
				r.Post("/", activities.CreateActivity)
				r.Get("/{id}", activities.GetActivity)
				r.Put("/{id}", activities.UpdateActivity)
				r.Delete("/{id}", activities.DeleteActivity)
				r.Post("/{id}/complete", activities.CompleteActivity)
			})

			r.Route("/campaigns", func(r chi.Router) {
				r.Get("/", campaigns.ListCampaigns)
				r.Post("/", campaigns.CreateCampaign)
				r.Get("/{id}", campaigns.GetCampaign)
				r.Put("/{id}", campaigns.UpdateCampaign)
				r.Delete("/{id}", campaigns.DeleteCampaign)
				r.Post("/{id}/schedule", campaigns.ScheduleCampaign)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", approvals.ListApprovals)
				r.Get("/{id}", approvals.GetApproval)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(model.RoleManager))
					r.Post("/{id}/approve", approvals.Approve)
					r.Post("/{id}/reject", approvals.Reject)
				})
			})

			r.Get("/pipeline", pipe.GetPipeline)
			r.Get("/dashboard", pipe.GetDashboard)
		})
	})

	if s.cfg.EnableUI {
		s.mountUI(r)
	}

	s.router = r
}

// mountUI serves the embedded client. Unknown non-API paths fall back to
// index.html so client-side routes survive a reload.
func (s *Server) mountUI(r chi.Router) {
	distFS, err := fs.Sub(ui.Dist, "dist")
	if err != nil {
		s.logger.Error("failed to create sub filesystem for UI", "error", err)
		return
	}
	fileServer := http.FileServer(http.FS(distFS))
	r.Handle("/assets/*", fileServer)
	r.Get("/favicon.svg", fileServer.ServeHTTP)

	spa := func(w http.ResponseWriter, r *http.Request) {
		f, err := distFS.Open("index.html")
		if err != nil {
			http.Error(w, "UI not available", http.StatusNotFound)
			return
		}
		defer f.Close()
		stat, err := f.Stat()
		if err != nil {
			http.Error(w, "UI not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, "index.html", stat.ModTime(), f.(io.ReadSeeker))
	}
	r.Get("/", spa)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(model.ErrorResponse{Error: "not found"})
			return
		}
		spa(w, r)
	})
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the database answers a
// ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := map[string]string{"database": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		checks["database"] = "unreachable"
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"version": s.cfg.Version,
		"checks":  checks,
	})
}

// ListenAndServe listens on the configured address and serves until SIGINT
// or SIGTERM, then shuts down gracefully.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Shutdown drains
// in-flight requests, stops the pipeline tracker and flushes pending API key
// last-used writes, all within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.tracker.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		serveErr = fmt.Errorf("server listen: %w", serveErr)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	s.tracker.Shutdown()
	if err := s.authSvc.Recorder().Drain(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain last-used recorder: %w", err))
	}
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
