package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/adgate/internal/platform"
)

// InstrumentedExecutor wraps a platform.Executor with metrics, tracing, and
// anomaly detection. Every platform call gets a span and a counter; the
// wrapped executor never knows it is being observed.
type InstrumentedExecutor struct {
	inner   platform.Executor
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedExecutor wraps a platform executor with observability.
func NewInstrumentedExecutor(inner platform.Executor, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedExecutor {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedExecutor{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (e *InstrumentedExecutor) Name() string { return e.inner.Name() }

// observe wraps one platform call with span, duration, and status recording.
func (e *InstrumentedExecutor) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "platform."+operation,
			trace.WithAttributes(
				attribute.String("platform.name", e.inner.Name()),
			))
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if e.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if e.metrics != nil {
		e.metrics.PlatformCallsTotal.WithLabelValues(e.inner.Name(), operation, status).Inc()
		e.metrics.PlatformCallDuration.WithLabelValues(e.inner.Name(), operation).Observe(duration)
	}

	if e.anomaly != nil {
		if err != nil {
			e.anomaly.RecordBlocked("platform_" + operation)
		} else {
			e.anomaly.RecordAllowed("platform_" + operation)
		}
	}

	return err
}

func (e *InstrumentedExecutor) GetBudget(ctx context.Context, accountID, budgetID string) (*platform.Budget, error) {
	var out *platform.Budget
	err := e.observe(ctx, "get_budget", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetBudget(ctx, accountID, budgetID)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) SetBudget(ctx context.Context, accountID, budgetID string, amountMicros int64) (*platform.WriteResult, error) {
	var out *platform.WriteResult
	err := e.observe(ctx, "set_budget", func(ctx context.Context) error {
		var err error
		out, err = e.inner.SetBudget(ctx, accountID, budgetID, amountMicros)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) ListCampaigns(ctx context.Context, accountID string) ([]platform.Campaign, error) {
	var out []platform.Campaign
	err := e.observe(ctx, "list_campaigns", func(ctx context.Context) error {
		var err error
		out, err = e.inner.ListCampaigns(ctx, accountID)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) SetCampaignStatus(ctx context.Context, accountID, campaignID, status string) (*platform.WriteResult, error) {
	var out *platform.WriteResult
	err := e.observe(ctx, "set_campaign_status", func(ctx context.Context) error {
		var err error
		out, err = e.inner.SetCampaignStatus(ctx, accountID, campaignID, status)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) GetSitemap(ctx context.Context, siteURL, sitemapURL string) (bool, error) {
	var out bool
	err := e.observe(ctx, "get_sitemap", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetSitemap(ctx, siteURL, sitemapURL)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) SubmitSitemap(ctx context.Context, siteURL, sitemapURL string) (*platform.WriteResult, error) {
	var out *platform.WriteResult
	err := e.observe(ctx, "submit_sitemap", func(ctx context.Context) error {
		var err error
		out, err = e.inner.SubmitSitemap(ctx, siteURL, sitemapURL)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) DeleteSitemap(ctx context.Context, siteURL, sitemapURL string) (*platform.WriteResult, error) {
	var out *platform.WriteResult
	err := e.observe(ctx, "delete_sitemap", func(ctx context.Context) error {
		var err error
		out, err = e.inner.DeleteSitemap(ctx, siteURL, sitemapURL)
		return err
	})
	return out, err
}

func (e *InstrumentedExecutor) ChangeHistory(ctx context.Context, accountID string, since time.Time) ([]platform.ChangeEvent, error) {
	var out []platform.ChangeEvent
	err := e.observe(ctx, "change_history", func(ctx context.Context) error {
		var err error
		out, err = e.inner.ChangeHistory(ctx, accountID, since)
		return err
	})
	return out, err
}

var _ platform.Executor = (*InstrumentedExecutor)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
