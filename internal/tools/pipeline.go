package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jkaninda/adgate/internal/approval"
	"github.com/jkaninda/adgate/internal/audit"
	"github.com/jkaninda/adgate/internal/authz"
	"github.com/jkaninda/adgate/internal/notify"
	"github.com/jkaninda/adgate/internal/observability"
	"github.com/jkaninda/adgate/internal/platform"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
)

// Pipeline carries the shared machinery every write tool runs through.
// Constructed once at startup and injected into each tool; tests build
// isolated instances with in-memory stores.
type Pipeline struct {
	platforms *platform.Registry
	limits    safety.Limits
	engine    *approval.ConfirmationEngine
	snapshots *snapshot.Manager
	verifier  *platform.Verifier
	notifier  *notify.Dispatcher
	audit     *audit.Logger
	metrics   *observability.MetricsCollector // May be nil when metrics are disabled.
	anomaly   *observability.AnomalyDetector  // May be nil.
	logger    *slog.Logger
}

// PipelineDeps lists the collaborators a Pipeline needs. All fields except
// Metrics are required.
type PipelineDeps struct {
	Platforms *platform.Registry
	Limits    safety.Limits
	Engine    *approval.ConfirmationEngine
	Snapshots *snapshot.Manager
	Verifier  *platform.Verifier
	Notifier  *notify.Dispatcher
	Audit     *audit.Logger
	Metrics   *observability.MetricsCollector
	Anomaly   *observability.AnomalyDetector
	Logger    *slog.Logger
}

// NewPipeline wires a pipeline from its dependencies.
func NewPipeline(d PipelineDeps) *Pipeline {
	return &Pipeline{
		platforms: d.Platforms,
		limits:    d.Limits,
		engine:    d.Engine,
		snapshots: d.Snapshots,
		verifier:  d.Verifier,
		notifier:  d.Notifier,
		audit:     d.Audit,
		metrics:   d.Metrics,
		anomaly:   d.Anomaly,
		logger:    d.Logger,
	}
}

// Limits exposes the policy constants to tools for validation and previews.
func (p *Pipeline) Limits() safety.Limits { return p.limits }

// authorize checks the caller's approved-account set for the target account.
// An empty accountID is left for the vagueness detector to reject with a
// more actionable message. Denials are audited, counted, and notified.
func (p *Pipeline) authorize(ctx context.Context, req Request, platformName, accountID, operation string) error {
	if accountID == "" {
		return nil
	}

	var err error
	if req.Gate == nil {
		err = authz.ErrUnauthorized
	} else {
		err = req.Gate.EnforceAccess(platformName, accountID)
	}
	if err == nil {
		return nil
	}

	p.countBlocked(operation, "unauthorized")
	p.audit.LogBlockedOperation(ctx, req.UserID, operation, accountID, err.Error(), req.Params)
	p.notify(ctx, notify.Record{
		Type:      notify.TypeUnauthorizedAccess,
		Priority:  notify.PriorityCritical,
		AccountID: accountID,
		UserID:    req.UserID,
		Message:   "blocked attempt to operate on an unapproved account",
		Details:   map[string]string{"operation": operation, "platform": platformName},
	})
	return err
}

// checkVagueness rejects requests that lack concrete parameters. Blocked
// requests are audited, counted, and notified before any platform call.
func (p *Pipeline) checkVagueness(ctx context.Context, req Request, operation, accountID string) error {
	err := safety.CheckVagueness(operation, req.Intent, stringParams(req.Params))
	if err == nil {
		return nil
	}

	p.countBlocked(operation, "vague_request")
	p.audit.LogBlockedOperation(ctx, req.UserID, operation, accountID, err.Error(), req.Params)
	p.notify(ctx, notify.Record{
		Type:      notify.TypeVagueRequestBlocked,
		Priority:  notify.PriorityHigh,
		AccountID: accountID,
		UserID:    req.UserID,
		Message:   err.Error(),
		Details:   map[string]string{"operation": operation, "intent": req.Intent},
	})
	return err
}

// rejectValidation records a domain-validation rejection (budget cap, bulk
// ceiling) and returns the error unchanged for the caller to propagate.
func (p *Pipeline) rejectValidation(ctx context.Context, req Request, operation, accountID, reason string, err error) error {
	p.countBlocked(operation, reason)
	p.audit.LogBlockedOperation(ctx, req.UserID, operation, accountID, err.Error(), req.Params)
	return err
}

// confirmOrPreview is the fork at the heart of every write tool. Without a
// token it issues a preview bound to dryRun; with one it re-validates the
// dry run against the stored hash and runs action exactly once.
func (p *Pipeline) confirmOrPreview(ctx context.Context, req Request, toolName, token string, dryRun safety.DryRunResult, action approval.Action) (*Result, error) {
	if token == "" {
		issued, err := p.engine.CreateDryRun(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.PreviewsTotal.WithLabelValues(toolName).Inc()
		}
		p.audit.LogApprovalEvent(ctx, req.UserID, dryRun.Operation, dryRun.AccountID, "preview_issued")
		return PreviewResult(dryRun.Render(), issued,
			"Review the preview and call the tool again with this confirmationToken to execute."), nil
	}

	data, err := p.engine.ValidateAndExecute(ctx, token, dryRun, action)
	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, approval.ErrTokenNotFound):
			status = "token_not_found"
		case errors.Is(err, approval.ErrStaleConfirmation):
			status = "stale"
		}
		if p.metrics != nil {
			p.metrics.ConfirmationsTotal.WithLabelValues(toolName, status).Inc()
		}
		p.audit.LogFailedOperation(ctx, req.UserID, dryRun.Operation, dryRun.Platform, dryRun.AccountID, err.Error(), req.Params)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.ConfirmationsTotal.WithLabelValues(toolName, "executed").Inc()
	}
	p.countAllowed(dryRun.Operation)
	return ExecutedResult(data), nil
}

// executor resolves the platform client for a tool.
func (p *Pipeline) executor(name string) (platform.Executor, error) {
	return p.platforms.Get(name)
}

// recordExecution stores the after-state and hands the snapshot to the async
// verifier. Failures here never fail the write that already happened.
func (p *Pipeline) recordExecution(ctx context.Context, snapshotID string, after snapshot.ResourceState) {
	if err := p.snapshots.RecordExecution(ctx, snapshotID, after); err != nil {
		p.logger.Warn("recording after-state failed",
			slog.String("snapshot_id", snapshotID),
			slog.String("error", err.Error()),
		)
		return
	}
	snap, err := p.snapshots.Get(ctx, snapshotID)
	if err != nil {
		p.logger.Warn("loading snapshot for verification failed",
			slog.String("snapshot_id", snapshotID),
			slog.String("error", err.Error()),
		)
		return
	}
	if p.verifier != nil {
		p.verifier.VerifyAsync(snap)
	}
}

// notify stamps and dispatches a record. Best-effort by contract.
func (p *Pipeline) notify(ctx context.Context, rec notify.Record) {
	if p.notifier == nil {
		return
	}
	rec.CreatedAt = time.Now().UTC()
	p.notifier.Notify(ctx, rec)
}

// countBlocked feeds both the Prometheus counter and the block-rate anomaly
// window, so a burst of refusals raises an operator alert.
func (p *Pipeline) countBlocked(operation, reason string) {
	if p.metrics != nil {
		p.metrics.BlockedOperationsTotal.WithLabelValues(operation, reason).Inc()
	}
	if p.anomaly != nil {
		p.anomaly.RecordBlocked(operation)
	}
}

func (p *Pipeline) countAllowed(operation string) {
	if p.anomaly != nil {
		p.anomaly.RecordAllowed(operation)
	}
}
