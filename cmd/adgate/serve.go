package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/audit"
	"github.com/jkaninda/adgate/internal/authz"
	"github.com/jkaninda/adgate/internal/config"
	"github.com/jkaninda/adgate/internal/gateway"
	"github.com/jkaninda/adgate/internal/gateway/httpapi"
	mcpgw "github.com/jkaninda/adgate/internal/gateway/mcp"
	"github.com/jkaninda/adgate/internal/notify"
	"github.com/jkaninda/adgate/internal/observability"
	"github.com/jkaninda/adgate/internal/platform"
	"github.com/jkaninda/adgate/internal/ratelimit"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
	"github.com/jkaninda/adgate/internal/storage"
	pgstore "github.com/jkaninda/adgate/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/adgate/internal/storage/sqlite"
	"github.com/jkaninda/adgate/internal/tools"
	goutils "github.com/jkaninda/go-utils"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (MCP transport plus optional admin API)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `adgate --config path` and `adgate serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	}
}

// runServe wires the full gateway and blocks until a signal arrives.
func runServe(_ *cobra.Command, _ []string) error {
	// Logs go to stderr: stdout belongs to the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("ADGATE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	logger.Info("starting adgate", slog.String("config", serveConfigPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (optional): metrics, tracing, anomaly detection, health.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	metrics := obs.MetricsOrNil()
	anomaly := obs.AnomalyOrNil()
	var tracer trace.Tracer
	if ts := obs.TracerOrNil(); ts != nil {
		tracer = ts.Tracer()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	// Persistence.
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	// Account authorization gate. The scrypt key is derived once here and
	// shared with every per-request gate.
	gate, err := authz.NewGate(cfg.Authz.Secret)
	if err != nil {
		return err
	}

	// Confirmation tokens and human approvals.
	engine := approval.NewConfirmationEngine(cfg.Safety.TokenTTL(), logger)
	cancelTokens := engine.StartCleanup(ctx, time.Minute)
	defer cancelTokens()

	approvals := approval.NewManager(store.Approvals(), cfg.Admin.ApprovalTTL(), logger)
	cancelApprovals := approvals.StartCleanup(ctx, time.Minute)
	defer cancelApprovals()

	// Snapshots.
	snapshots := snapshot.NewManager(store.Snapshots(), cfg.Snapshots.Retention(), logger)

	// Platform executors. Writes go through the instrumented wrapper when
	// observability is enabled.
	platforms := platform.NewRegistry()
	for _, name := range []string{"google_ads", "search_console"} {
		var exec platform.Executor = platform.NewMemory(name)
		if obs != nil {
			exec = observability.NewInstrumentedExecutor(exec, obs.Metrics, obs.Tracer, obs.Anomaly)
		}
		platforms.Register(exec)
	}
	verifier := platform.NewVerifier(platforms, snapshots, logger)

	// Notifications: immediate senders plus an hourly digest per owner group.
	owners := map[string]string{}
	if cfg.Notification != nil && cfg.Notification.AccountOwners != nil {
		owners = cfg.Notification.AccountOwners
	}
	dispatcher := notify.NewDispatcher(func(accountID string) string { return owners[accountID] }, logger)
	dispatcher.RegisterSender(notify.NewLogSender(logger))
	if cfg.Notification != nil && cfg.Notification.WebhookURL != "" {
		webhook, err := notify.NewWebhookSender(cfg.Notification.WebhookURL)
		if err != nil {
			return fmt.Errorf("configuring webhook sender: %w", err)
		}
		dispatcher.RegisterSender(webhook)
	}

	// Audit trail: JSONL file plus the database sink.
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath())
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	auditLogger := audit.NewLogger(logger, fileSink, store.Audit())
	defer func() { _ = auditLogger.Close() }()

	// The safety pipeline and the tools behind it.
	pipeline := tools.NewPipeline(tools.PipelineDeps{
		Platforms: platforms,
		Limits:    limitsFromConfig(cfg.Safety),
		Engine:    engine,
		Snapshots: snapshots,
		Verifier:  verifier,
		Notifier:  dispatcher,
		Audit:     auditLogger,
		Metrics:   metrics,
		Anomaly:   anomaly,
		Logger:    logger,
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewUpdateBudgetTool(pipeline))
	registry.Register(tools.NewUpdateCampaignStatusTool(pipeline))
	registry.Register(tools.NewSubmitSitemapTool(pipeline))
	registry.Register(tools.NewRollbackTool(pipeline))
	registry.Register(tools.NewGetSnapshotTool(pipeline))
	registry.Register(tools.NewListApprovedAccountsTool(pipeline))
	logger.Info("tools registered", slog.Any("tools", registry.List()))

	// Housekeeping cron: snapshot purge and notification digest.
	runner := cron.New()
	if _, err := runner.AddFunc(cfg.Snapshots.PurgeCron(), func() {
		snapshots.Purge(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling snapshot purge: %w", err)
	}
	if _, err := runner.AddFunc(cfg.Notification.DigestCron(), func() {
		dispatcher.FlushDigest(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling notification digest: %w", err)
	}
	runner.Start()
	defer runner.Stop()

	// MCP server (stdio or streamable HTTP).
	mcpServer, err := mcpgw.NewServer(cfg.MCP, version, gate, registry, metrics, tracer, logger)
	if err != nil {
		return fmt.Errorf("building mcp server: %w", err)
	}
	gateways := []gateway.Gateway{mcpServer}

	// Admin API (optional).
	if cfg.Admin.Enabled {
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Admin.RateLimitPerMin,
			BurstSize:         cfg.Admin.RateLimitBurst,
		})
		adminCfg := httpapi.Config{
			ListenAddr: cfg.Admin.ListenAddr(),
			APIKey:     cfg.Admin.APIKey,
		}
		if obs != nil {
			adminCfg.Metrics = obs.Metrics
			adminCfg.HealthChecker = obs.Health
			if obs.Metrics != nil {
				adminCfg.MetricsRegistry = obs.Metrics.Registry
			}
			adminCfg.Tracer = tracer
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				adminCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		gateways = append(gateways, httpapi.NewGateway(adminCfg, approvals, snapshots, platforms, limiter, logger))
		logger.Info("admin api enabled", slog.String("addr", cfg.Admin.ListenAddr()))
	}

	// Start all gateways and wait for a signal or the first failure.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout())
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	// Let in-flight verifications finish and flush any queued digest records
	// before the senders go away.
	verifier.Wait()
	dispatcher.FlushDigest(shutdownCtx)

	return nil
}

// openStore opens the configured persistence backend.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case "postgres":
		db, err := pgstore.Open(pgstore.Config{
			DSN:          cfg.Storage.Postgres.DSN,
			MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return pgstore.NewStore(db), nil
	default:
		sqliteCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqliteCfg.Path = cfg.Storage.SQLite.Path
			}
			sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		store, err := sqlitestore.Open(sqliteCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	}
}

// limitsFromConfig maps the safety config onto policy limits, falling back to
// the reference defaults for unset fields.
func limitsFromConfig(sc config.SafetyConfig) safety.Limits {
	limits := safety.DefaultLimits()
	if sc.MaxBudgetChangePercent > 0 {
		limits.MaxChangePercent = sc.MaxBudgetChangePercent
	}
	if sc.WarnBudgetChangePercent > 0 {
		limits.WarnPercent = sc.WarnBudgetChangePercent
	}
	if sc.GradualChangePercent > 0 {
		limits.GradualPercent = sc.GradualChangePercent
	}
	if sc.MaxBulkItems > 0 {
		limits.MaxBulkItems = sc.MaxBulkItems
	}
	return limits
}
