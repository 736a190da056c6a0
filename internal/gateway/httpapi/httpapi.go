// Package httpapi implements the admin/ops HTTP API for adgate: human
// approval decisions, snapshot inspection and rollback, health probes, and
// metrics exposition.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-caller rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/observability"
	"github.com/jkaninda/adgate/internal/platform"
	"github.com/jkaninda/adgate/internal/ratelimit"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
	"github.com/jkaninda/adgate/internal/tools"
	"github.com/jkaninda/okapi"
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the admin HTTP API gateway.
type Config struct {
	ListenAddr string // e.g., ":8481"
	EnableDocs bool
	APIKey     string // Single admin key. Required.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the admin HTTP API gateway.
type Gateway struct {
	config    Config
	approvals *approval.Manager
	snapshots *snapshot.Manager
	platforms *platform.Registry
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server
	okapi     *okapi.Okapi
	group     *okapi.Group
}

// NewGateway creates an admin HTTP API gateway.
func NewGateway(cfg Config, approvals *approval.Manager, snapshots *snapshot.Manager, platforms *platform.Registry, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:    cfg,
		approvals: approvals,
		snapshots: snapshots,
		platforms: platforms,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(),
	}
}

// WithOpenAPIDocs enables the generated OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "AdGate Admin API",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{
			observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		}, middlewares...)
	}

	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Get("/approvals", g.handleApprovalList,
		okapi.DocSummary("List approval requests, optionally filtered by ?status="),
		okapi.DocTags("Approvals"),
		okapi.DocResponse([]ApprovalResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/approvals", g.handleApprovalSubmit,
		okapi.DocSummary("Submit an approval request for an out-of-band decision"),
		okapi.DocTags("Approvals"),
		okapi.DocRequestBody(SubmitRequest{}),
		okapi.DocResponse(ApprovalResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/approvals/{id}", g.handleApprovalGet,
		okapi.DocSummary("Get an approval request"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval request ID"),
		okapi.DocResponse(ApprovalResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/approvals/{id}/approve", g.handleApprovalApprove,
		okapi.DocSummary("Approve a pending request"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval request ID"),
		okapi.DocRequestBody(DecisionRequest{}),
		okapi.DocResponse(ApprovalResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/approvals/{id}/reject", g.handleApprovalReject,
		okapi.DocSummary("Reject a pending request"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("id", "string", "Approval request ID"),
		okapi.DocRequestBody(DecisionRequest{}),
		okapi.DocResponse(ApprovalResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	g.group.Get("/snapshots", g.handleSnapshotList,
		okapi.DocSummary("List recent snapshots, filtered by ?account_id= and ?limit="),
		okapi.DocTags("Snapshots"),
		okapi.DocResponse([]SnapshotResponse{}),
	)
	g.group.Get("/snapshots/{id}", g.handleSnapshotGet,
		okapi.DocSummary("Get a snapshot with rollback and verification state"),
		okapi.DocTags("Snapshots"),
		okapi.DocPathParam("id", "string", "Snapshot ID"),
		okapi.DocResponse(SnapshotResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/snapshots/{id}/rollback", g.handleSnapshotRollback,
		okapi.DocSummary("Roll back an executed write to its before-state"),
		okapi.DocTags("Snapshots"),
		okapi.DocPathParam("id", "string", "Snapshot ID"),
		okapi.DocResponse(SnapshotResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

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
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("admin api starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("admin api stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Approvals ---

// ApprovalResponse is the JSON shape of an approval request.
type ApprovalResponse struct {
	ID         string     `json:"id"`
	Operation  string     `json:"operation"`
	Resource   string     `json:"resource"`
	Requester  string     `json:"requester"`
	Status     string     `json:"status"`
	Preview    string     `json:"preview"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// DecisionRequest is the JSON body for approve/reject endpoints.
type DecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SubmitRequest is the JSON body for creating an approval request. The
// changes become the preview the approver reviews.
type SubmitRequest struct {
	Operation string       `json:"operation"`
	Platform  string       `json:"platform"`
	AccountID string       `json:"account_id"`
	Resource  string       `json:"resource"`
	Changes   []ChangeBody `json:"changes,omitempty"`
}

// ChangeBody is one proposed change inside a SubmitRequest.
type ChangeBody struct {
	Resource     string `json:"resource"`
	ResourceID   string `json:"resource_id"`
	Field        string `json:"field"`
	CurrentValue string `json:"current_value"`
	NewValue     string `json:"new_value"`
}

func toApprovalResponse(r *approval.Request) ApprovalResponse {
	return ApprovalResponse{
		ID:         r.ID,
		Operation:  r.Operation,
		Resource:   r.Resource,
		Requester:  r.Requester,
		Status:     r.Status.String(),
		Preview:    r.DryRun.Render(),
		ResolvedBy: r.ResolvedBy,
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		ResolvedAt: r.ResolvedAt,
	}
}

func (g *Gateway) handleApprovalList(c *okapi.Context) error {
	var filter *approval.Status
	switch c.Request().URL.Query().Get("status") {
	case "":
	case "pending":
		s := approval.StatusPending
		filter = &s
	case "approved":
		s := approval.StatusApproved
		filter = &s
	case "rejected":
		s := approval.StatusRejected
		filter = &s
	default:
		return c.AbortBadRequest("status must be pending, approved, or rejected")
	}

	reqs, err := g.approvals.List(c.Context(), filter)
	if err != nil {
		return c.AbortInternalServerError("listing approvals failed")
	}
	out := make([]ApprovalResponse, len(reqs))
	for i := range reqs {
		out[i] = toApprovalResponse(&reqs[i])
	}
	return c.OK(out)
}

func (g *Gateway) handleApprovalSubmit(c *okapi.Context) error {
	var body SubmitRequest
	if err := c.Bind(&body); err != nil {
		return c.AbortBadRequest("malformed request body")
	}
	if body.Operation == "" || body.Resource == "" {
		return c.AbortBadRequest("operation and resource are required")
	}

	b := safety.NewDryRun(body.Operation, body.Platform, body.AccountID)
	for _, ch := range body.Changes {
		b.AddChange(safety.Change{
			Resource:     ch.Resource,
			ResourceID:   ch.ResourceID,
			Field:        ch.Field,
			CurrentValue: ch.CurrentValue,
			NewValue:     ch.NewValue,
			Kind:         safety.ChangeUpdate,
		})
	}

	id, err := g.approvals.Submit(c.Context(), body.Operation, body.Resource, c.GetString("userID"), b.Build())
	if err != nil {
		return c.AbortInternalServerError("submitting approval failed")
	}

	req, err := g.approvals.Get(c.Context(), id)
	if err != nil {
		return approvalError(c, err)
	}
	return c.JSON(http.StatusCreated, toApprovalResponse(req))
}

func (g *Gateway) handleApprovalGet(c *okapi.Context) error {
	req, err := g.approvals.Get(c.Context(), c.Param("id"))
	if err != nil {
		return approvalError(c, err)
	}
	return c.OK(toApprovalResponse(req))
}

func (g *Gateway) handleApprovalApprove(c *okapi.Context) error {
	return g.resolveApproval(c, true)
}

func (g *Gateway) handleApprovalReject(c *okapi.Context) error {
	return g.resolveApproval(c, false)
}

func (g *Gateway) resolveApproval(c *okapi.Context, approve bool) error {
	id := c.Param("id")
	userID := c.GetString("userID")

	var body DecisionRequest
	_ = c.Bind(&body) // Reason is optional; an empty body is fine.

	var err error
	if approve {
		err = g.approvals.Approve(c.Context(), id, userID)
	} else {
		err = g.approvals.Reject(c.Context(), id, userID, body.Reason)
	}
	if err != nil {
		return approvalError(c, err)
	}

	g.logger.Info("approval resolved via admin api",
		slog.String("request_id", id),
		slog.String("resolver", userID),
		slog.Bool("approved", approve),
	)

	req, err := g.approvals.Get(c.Context(), id)
	if err != nil {
		return approvalError(c, err)
	}
	return c.OK(toApprovalResponse(req))
}

// --- Snapshots ---

// SnapshotResponse is the JSON shape of a snapshot.
type SnapshotResponse struct {
	ID                 string     `json:"id"`
	Operation          string     `json:"operation"`
	Platform           string     `json:"platform"`
	AccountID          string     `json:"account_id"`
	UserID             string     `json:"user_id,omitempty"`
	ResourceID         string     `json:"resource_id"`
	Before             any        `json:"before"`
	After              any        `json:"after,omitempty"`
	Executed           bool       `json:"executed"`
	Verified           bool       `json:"verified"`
	CreatedAt          time.Time  `json:"created_at"`
	RolledBackAt       *time.Time `json:"rolled_back_at,omitempty"`
	RollbackSuccessful bool       `json:"rollback_successful,omitempty"`
	RollbackError      string     `json:"rollback_error,omitempty"`
}

func toSnapshotResponse(s *snapshot.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		ID:                 s.ID,
		Operation:          s.Operation,
		Platform:           s.Platform,
		AccountID:          s.AccountID,
		UserID:             s.UserID,
		ResourceID:         s.ResourceID,
		Before:             s.Before,
		Executed:           s.Executed(),
		Verified:           s.Verified,
		CreatedAt:          s.CreatedAt,
		RolledBackAt:       s.RolledBackAt,
		RollbackSuccessful: s.RollbackSuccessful,
		RollbackError:      s.RollbackError,
	}
	if s.After != nil {
		resp.After = *s.After
	}
	return resp
}

func (g *Gateway) handleSnapshotList(c *okapi.Context) error {
	query := c.Request().URL.Query()
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	snaps, err := g.snapshots.List(c.Context(), query.Get("account_id"), limit)
	if err != nil {
		return c.AbortInternalServerError("listing snapshots failed")
	}
	out := make([]SnapshotResponse, len(snaps))
	for i := range snaps {
		out[i] = toSnapshotResponse(&snaps[i])
	}
	return c.OK(out)
}

func (g *Gateway) handleSnapshotGet(c *okapi.Context) error {
	snap, err := g.snapshots.Get(c.Context(), c.Param("id"))
	if err != nil {
		return snapshotError(c, err)
	}
	return c.OK(toSnapshotResponse(snap))
}

// handleSnapshotRollback restores a snapshot's before-state. The admin key
// stands in for the confirmation-token protocol here: the operator is the
// approver. The at-most-once rollback invariant still holds.
func (g *Gateway) handleSnapshotRollback(c *okapi.Context) error {
	id := c.Param("id")
	snap, err := g.snapshots.Get(c.Context(), id)
	if err != nil {
		return snapshotError(c, err)
	}

	exec, err := g.platforms.Get(snap.Platform)
	if err != nil {
		return c.AbortInternalServerError("platform not configured")
	}

	g.logger.Info("admin rollback requested",
		slog.String("snapshot_id", id),
		slog.String("resolver", c.GetString("userID")),
	)

	if err := g.snapshots.Rollback(c.Context(), id, tools.Inverse(exec, snap.AccountID)); err != nil {
		return snapshotError(c, err)
	}

	snap, err = g.snapshots.Get(c.Context(), id)
	if err != nil {
		return snapshotError(c, err)
	}
	return c.OK(toSnapshotResponse(snap))
}

// --- Health ---

// HealthResponse is the JSON response for the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
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

// authenticate validates the bearer API key (constant time) and applies the
// per-caller rate limit.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.config.APIKey)) != 1 {
			return c.AbortUnauthorized("invalid API key")
		}

		userID := "admin"
		if g.limiter != nil {
			if err := g.limiter.Allow(userID); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}
		c.Set("userID", userID)
		c.Set("correlationID", newCorrelationID())
		return next(c)
	}
}

// --- Helpers ---

func approvalError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "approval request not found"})
	case errors.Is(err, approval.ErrAlreadyResolved):
		return c.JSON(http.StatusConflict, okapi.M{"error": "approval request already resolved"})
	default:
		return c.AbortInternalServerError("approval error")
	}
}

func snapshotError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "snapshot not found"})
	case errors.Is(err, snapshot.ErrNotExecuted):
		return c.JSON(http.StatusConflict, okapi.M{"error": "snapshot has no recorded after-state"})
	case errors.Is(err, snapshot.ErrAlreadyRolledBack):
		return c.JSON(http.StatusConflict, okapi.M{"error": "snapshot already rolled back"})
	default:
		return c.AbortInternalServerError("rollback failed; see server logs")
	}
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
