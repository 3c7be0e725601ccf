// Package httpapi exposes the command center over HTTP: task submission
// and queries, cancellation, agent listings and memory search, plus
// /healthz, /readyz and /metrics.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hive/internal/commandcenter"
	"github.com/jkaninda/hive/internal/observability"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP server.
type Config struct {
	ListenAddr   string // e.g., ":8080"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	EnableDocs   bool

	// Observability
	MetricsRegistry *prometheus.Registry            // Registry served on /metrics.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Backs /readyz.
	Metrics         *observability.MetricsCollector // HTTP middleware metrics.
	Tracer          trace.Tracer                    // HTTP middleware spans.
}

// Server serves the command center API.
type Server struct {
	config Config
	cc     *commandcenter.CommandCenter
	logger *slog.Logger
	server *http.Server
	okapi  *okapi.Okapi
}

// New creates a server for cc. Routes are mounted by Start.
func New(cfg Config, cc *commandcenter.CommandCenter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		config: cfg,
		cc:     cc,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

func (s *Server) routes() {
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(s.config.Metrics, s.config.Tracer, next)
		})
	}

	v1 := s.okapi.Group("/v1")

	v1.Get("/tasks", s.handleTaskList,
		okapi.DocSummary("List tasks"),
		okapi.DocTags("Tasks"),
		okapi.DocResponse([]TaskResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	v1.Post("/tasks", s.handleTaskSubmit,
		okapi.DocSummary("Submit a task"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(SubmitTaskRequest{}),
		okapi.DocResponse(http.StatusCreated, SubmitTaskResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	v1.Get("/tasks/{id}", s.handleTaskGet,
		okapi.DocSummary("Get a task by ID"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	v1.Get("/tasks/{id}/tree", s.handleTaskTree,
		okapi.DocSummary("Get the delegation subtree rooted at a task"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(TreeNode{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	v1.Post("/tasks/{id}/cancel", s.handleTaskCancel,
		okapi.DocSummary("Cancel a task and its subtree"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	v1.Get("/memory", s.handleMemoryQuery,
		okapi.DocSummary("Search remembered task results"),
		okapi.DocTags("Memory"),
		okapi.DocResponse(MemoryResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	v1.Get("/agents", s.handleAgentList,
		okapi.DocSummary("List agents"),
		okapi.DocTags("Agents"),
		okapi.DocResponse([]AgentResponse{}),
	)
	v1.Get("/agents/{id}", s.handleAgentGet,
		okapi.DocSummary("Get an agent by ID"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("id", "string", "Agent ID"),
		okapi.DocResponse(AgentResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.okapi.WithOpenAPIDocs(okapi.OpenAPI{Title: "Hive", Version: "v1"})
	}
}

// Start mounts the routes and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.routes()

	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http api starting", slog.String("addr", s.config.ListenAddr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("http api stopping")
	return s.okapi.Shutdown(s.server)
}

// --- Health ---

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
