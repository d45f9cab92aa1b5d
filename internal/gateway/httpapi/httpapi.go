// Package httpapi implements the HTTP API gateway for Nafsi.
//
// Security:
//   - Bearer token authentication on every /v1 request (constant-time comparison)
//   - Per-counterpart rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/devicesync"
	"github.com/jkaninda/nafsi/internal/domain"
	"github.com/jkaninda/nafsi/internal/observability"
	"github.com/jkaninda/nafsi/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string // e.g., ":8087"
	EnableDocs bool
	APIToken   string // Bearer token. Empty disables authentication (local use).

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	engine  *core.Engine
	gate    *agency.Gate
	audit   agency.AuditStore
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	// syncMgr is nil when device sync is disabled.
	syncMgr *devicesync.Manager

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, engine *core.Engine, gate *agency.Gate, audit agency.AuditStore, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		engine:  engine,
		gate:    gate,
		audit:   audit,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithSync attaches the device sync manager to the gateway.
func (g *Gateway) WithSync(mgr *devicesync.Manager) *Gateway {
	g.syncMgr = mgr
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Used for the WebSocket conversation endpoint.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// WithOpenAPIDocs enables the interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Nafsi",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group. Metrics/tracing wrap the API routes only,
	// so probe and scrape traffic stays out of the request metrics.
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer)}, middlewares...)
	}
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/turn", g.handleTurn,
		okapi.DocSummary("Deliver a message and receive the synthesized reply"),
		okapi.DocTags("Turn"),
		okapi.DocRequestBody(TurnRequest{}),
		okapi.DocResponse(TurnResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	g.group.Post("/turn/stream", g.handleTurnStream,
		okapi.DocSummary("Deliver a message and stream the reply as server-sent events"),
		okapi.DocTags("Turn"),
		okapi.DocRequestBody(TurnRequest{}),
	)

	g.registerAgencyRoutes()
	g.registerSyncRoutes()

	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Extra handlers (e.g., the WebSocket conversation endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Turn ---

// TurnRequest is the JSON body for POST /v1/turn.
type TurnRequest struct {
	ExternalID string `json:"external_id"`          // Client identity, e.g. "cli-user" or a device ID.
	Name       string `json:"name,omitempty"`       // Display name, recorded on first contact.
	Message    string `json:"message"`
	Override   string `json:"perspective,omitempty"` // Force a single deliberation perspective.
}

// TurnResponse is the JSON response for POST /v1/turn.
type TurnResponse struct {
	Text            string           `json:"text"`
	Posture         string           `json:"posture"`
	CapabilityLevel string           `json:"capability_level"`
	CorrelationID   string           `json:"correlation_id"`
	Degraded        bool             `json:"degraded,omitempty"`
	SideEffects     []SideEffectBody `json:"side_effects,omitempty"`
}

// SideEffectBody is one gate ruling attached to a turn response.
type SideEffectBody struct {
	ActionID string `json:"action_id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Decision string `json:"decision"`
	Executed bool   `json:"executed"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Rollback bool   `json:"rollback,omitempty"`
}

func (g *Gateway) handleTurn(c *okapi.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ExternalID == "" {
		return c.AbortBadRequest("external_id is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(req.ExternalID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	correlationID := newCorrelationID()
	g.logger.Info("http turn",
		slog.String("external_id", req.ExternalID),
		slog.String("correlation_id", correlationID),
	)

	counterpart, err := g.engine.Resolve(c.Context(), req.ExternalID, req.Name)
	if err != nil {
		g.logger.Error("counterpart resolution failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("counterpart resolution failed")
	}

	result, err := g.engine.HandleTurn(c.Context(), &domain.TurnRequest{
		CounterpartID: counterpart.ID,
		Message:       req.Message,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Override:      req.Override,
	})
	if err != nil {
		g.logger.Error("turn failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("turn failed")
	}

	return c.OK(toTurnResponse(result))
}

func toTurnResponse(r *domain.TurnResult) TurnResponse {
	resp := TurnResponse{
		Text:            r.Text,
		Posture:         r.Posture,
		CapabilityLevel: r.CapabilityLevel,
		CorrelationID:   r.CorrelationID,
		Degraded:        r.Degraded,
	}
	for _, se := range r.SideEffects {
		resp.SideEffects = append(resp.SideEffects, SideEffectBody{
			ActionID: se.ActionID.String(),
			Category: se.Category,
			Name:     se.Name,
			Decision: se.Decision,
			Executed: se.Executed,
			Output:   se.Output,
			Error:    se.Error,
			Rollback: se.Rollback,
		})
	}
	return resp
}

// --- Health ---

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer token. With no token configured the
// gateway is open, which is only sensible on a loopback bind.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIToken == "" {
			return next(c)
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.config.APIToken)) != 1 {
			return c.AbortUnauthorized("invalid token")
		}
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
