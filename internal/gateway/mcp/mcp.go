// Package mcp exposes the gateway's tools over the Model Context Protocol,
// on stdio or streamable HTTP.
//
// The caller's approved-account credentials ride alongside the protocol:
// over HTTP as the X-Adgate-Accounts / X-Adgate-Accounts-Signature headers,
// over stdio as environment variables set by the launching process. The
// payload is verified per request; tools never see an unverified account
// list.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/adgate/internal/audit"
	"github.com/jkaninda/adgate/internal/authz"
	"github.com/jkaninda/adgate/internal/config"
	"github.com/jkaninda/adgate/internal/observability"
	"github.com/jkaninda/adgate/internal/tools"
)

// Header and env names carrying the caller's credentials.
const (
	HeaderAccounts  = "X-Adgate-Accounts"
	HeaderSignature = "X-Adgate-Accounts-Signature"
	HeaderUserID    = "X-Adgate-User"

	EnvAccounts  = "ADGATE_ACCOUNTS_PAYLOAD"
	EnvSignature = "ADGATE_ACCOUNTS_SIGNATURE"
	EnvUserID    = "ADGATE_USER_ID"
)

type ctxKey int

const credentialsKey ctxKey = iota

// credentials is the per-request account payload before verification.
type credentials struct {
	payload   string
	signature string
	userID    string
}

// Server serves the tool registry over MCP.
type Server struct {
	cfg      config.MCPConfig
	baseGate *authz.Gate // Key derived once; cloned per request with the caller's payload.
	registry *tools.Registry
	metrics  *observability.MetricsCollector // May be nil.
	tracer   trace.Tracer                    // May be nil.
	logger   *slog.Logger

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewServer builds the MCP server and registers every tool in the registry.
// version is the build version reported during the MCP handshake.
func NewServer(cfg config.MCPConfig, version string, baseGate *authz.Gate, registry *tools.Registry, metrics *observability.MetricsCollector, tracer trace.Tracer, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		baseGate: baseGate,
		registry: registry,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}

	s.mcpServer = server.NewMCPServer("adgate", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	for _, t := range registry.All() {
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("marshaling schema for tool %s: %w", t.Name(), err)
		}
		s.mcpServer.AddTool(
			mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema),
			s.handler(t),
		)
	}

	return s, nil
}

// Start serves on the configured transport and blocks until exit or ctx
// cancellation.
func (s *Server) Start(ctx context.Context) error {
	switch s.cfg.TransportName() {
	case "stdio":
		s.logger.Info("mcp server starting", slog.String("transport", "stdio"))
		return server.ServeStdio(s.mcpServer, server.WithStdioContextFunc(stdioContext))
	case "http":
		s.httpServer = server.NewStreamableHTTPServer(s.mcpServer,
			server.WithHTTPContextFunc(httpContext),
		)
		s.logger.Info("mcp server starting",
			slog.String("transport", "http"),
			slog.String("addr", s.cfg.ListenAddr()),
		)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}()
		err := s.httpServer.Start(s.cfg.ListenAddr())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unsupported mcp transport %q", s.cfg.TransportName())
	}
}

// Stop shuts down the HTTP transport if one is running. Stdio stops with the
// parent process.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handler adapts one gateway tool to an MCP tool handler.
func (s *Server) handler(t tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, callReq mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		creds := credentialsFromContext(ctx)
		correlationID := newCorrelationID()
		ctx = audit.WithCorrelationID(ctx, correlationID)

		gate, err := s.verifyGate(creds)
		if err != nil {
			s.logger.Warn("account payload rejected",
				slog.String("tool", t.Name()),
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError("account authorization failed: " + err.Error()), nil
		}

		params := callReq.GetArguments()
		req := tools.Request{
			UserID: creds.userID,
			Intent: tools.StringParam(params, "intent"),
			Params: params,
			Gate:   gate,
		}

		if s.tracer != nil {
			var span trace.Span
			ctx, span = s.tracer.Start(ctx, "tool.execute",
				trace.WithAttributes(attribute.String("tool.name", t.Name())))
			defer span.End()
		}

		start := time.Now()
		result, err := t.Execute(ctx, req)
		if s.metrics != nil {
			s.metrics.ToolExecutionDuration.WithLabelValues(t.Name()).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			// Safety rejections and platform failures are tool results, not
			// protocol errors: the caller needs the message to correct course.
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshaling tool result: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// verifyGate verifies the per-request account payload. Requests without
// credentials get a nil gate: read tools still work, every account access
// is denied.
func (s *Server) verifyGate(creds credentials) (*authz.Gate, error) {
	if creds.payload == "" && creds.signature == "" {
		return nil, nil
	}
	if creds.payload == "" || creds.signature == "" {
		return nil, errors.New("both accounts payload and signature are required")
	}
	return s.baseGate.WithPayload(creds.payload, creds.signature)
}

// httpContext stashes the credential headers for the tool handlers.
func httpContext(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, credentialsKey, credentials{
		payload:   r.Header.Get(HeaderAccounts),
		signature: r.Header.Get(HeaderSignature),
		userID:    r.Header.Get(HeaderUserID),
	})
}

// stdioContext reads credentials from the environment: a stdio server is
// launched per caller, so process env is the caller's scope.
func stdioContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, credentialsKey, credentials{
		payload:   os.Getenv(EnvAccounts),
		signature: os.Getenv(EnvSignature),
		userID:    os.Getenv(EnvUserID),
	})
}

func credentialsFromContext(ctx context.Context) credentials {
	if c, ok := ctx.Value(credentialsKey).(credentials); ok {
		return c
	}
	return credentials{}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%x", b)
}
