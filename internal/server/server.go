package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/server/handler"
	"github.com/fabrknt/flowguard/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Per-client request cap. Zero disables HTTP rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Positions  *handler.PositionHandler
	Decisions  *handler.DecisionHandler
	Executions *handler.ExecutionHandler
	Audit      *handler.AuditHandler
	Payments   *handler.PaymentHandler
}

// Server is the headless HTTP API server for the position manager.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, optional rate limiting).
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check and Prometheus scrape endpoint.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Position lifecycle endpoints.
	mux.HandleFunc("POST /api/positions", handlers.Positions.CreatePosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/id/{id}", handlers.Positions.GetPositionByID)
	mux.HandleFunc("GET /api/positions/{owner}/{index}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{owner}/{index}/pause", handlers.Positions.PausePosition)
	mux.HandleFunc("POST /api/positions/{owner}/{index}/resume", handlers.Positions.ResumePosition)
	mux.HandleFunc("POST /api/positions/{owner}/{index}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("POST /api/positions/{owner}/{index}/fees/collect", handlers.Positions.CollectFees)

	// Decision endpoints. Decisions are addressed by position id plus their
	// per-position sequence index.
	mux.HandleFunc("POST /api/decisions", handlers.Decisions.ProposeDecision)
	mux.HandleFunc("GET /api/positions/{id}/decisions", handlers.Decisions.ListDecisions)
	mux.HandleFunc("GET /api/positions/{id}/decisions/{index}", handlers.Decisions.GetDecision)
	mux.HandleFunc("POST /api/positions/{id}/decisions/{index}/approve", handlers.Decisions.ApproveDecision)
	mux.HandleFunc("POST /api/positions/{id}/decisions/{index}/reject", handlers.Decisions.RejectDecision)
	mux.HandleFunc("POST /api/positions/{id}/decisions/{index}/cancel", handlers.Decisions.CancelDecision)
	mux.HandleFunc("POST /api/positions/{id}/decisions/{index}/fail", handlers.Executions.FailDecision)

	// Execution endpoint.
	mux.HandleFunc("POST /api/executions", handlers.Executions.ExecuteDecision)

	// Audit ledger endpoints.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEvents)
	mux.HandleFunc("GET /api/positions/{id}/audit", handlers.Audit.ListPositionEvents)

	// Payment gating endpoints.
	mux.HandleFunc("POST /api/payments", handlers.Payments.VerifyPayment)
	mux.HandleFunc("GET /api/payments/access", handlers.Payments.CheckAccess)

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
