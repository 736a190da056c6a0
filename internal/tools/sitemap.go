package tools

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jkaninda/adgate/internal/notify"
	"github.com/jkaninda/adgate/internal/platform"
	"github.com/jkaninda/adgate/internal/safety"
	"github.com/jkaninda/adgate/internal/snapshot"
)

const platformSearchConsole = "search_console"

// SubmitSitemapTool submits a sitemap to Search Console for a verified site.
// The site URL doubles as the account identifier for authorization: the
// caller's grant must cover (search_console, site_url).
type SubmitSitemapTool struct {
	pipeline *Pipeline
}

// NewSubmitSitemapTool creates the submit_sitemap tool.
func NewSubmitSitemapTool(p *Pipeline) *SubmitSitemapTool {
	return &SubmitSitemapTool{pipeline: p}
}

func (t *SubmitSitemapTool) Name() string { return "submit_sitemap" }

func (t *SubmitSitemapTool) Description() string {
	return "Submit a sitemap to Search Console for a verified site. Returns a preview first; " +
		"call again with the returned confirmationToken to execute."
}

func (t *SubmitSitemapTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"site_url": map[string]any{
				"type":        "string",
				"description": "Verified site property URL.",
			},
			"sitemap_url": map[string]any{
				"type":        "string",
				"description": "Full URL of the sitemap to submit.",
			},
			"intent": map[string]any{
				"type":        "string",
				"description": "The caller's request in their own words.",
			},
			"confirmation_token": map[string]any{
				"type":        "string",
				"description": "Token from a prior preview. Omit to get a preview.",
			},
		},
		"required": []string{"site_url", "sitemap_url"},
	}
}

func (t *SubmitSitemapTool) Execute(ctx context.Context, req Request) (*Result, error) {
	p := t.pipeline
	siteURL := StringParam(req.Params, "site_url")
	sitemapURL := StringParam(req.Params, "sitemap_url")
	token := StringParam(req.Params, "confirmation_token")

	if err := p.authorize(ctx, req, platformSearchConsole, siteURL, t.Name()); err != nil {
		return nil, err
	}
	if err := p.checkVagueness(ctx, req, t.Name(), siteURL); err != nil {
		return nil, err
	}
	if err := validateSitemapURL(sitemapURL); err != nil {
		return nil, err
	}

	exec, err := p.executor(platformSearchConsole)
	if err != nil {
		return nil, err
	}

	exists, err := platform.ReadWithRetry(ctx, p.logger, func(ctx context.Context) (bool, error) {
		return exec.GetSitemap(ctx, siteURL, sitemapURL)
	})
	if err != nil {
		p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), platformSearchConsole, siteURL, err.Error(), req.Params)
		return nil, fmt.Errorf("checking sitemap state: %w", err)
	}

	dryRun := buildSitemapDryRun(siteURL, sitemapURL, exists)

	start := time.Now()
	action := func(ctx context.Context) (map[string]any, error) {
		before := snapshot.ResourceState{
			Kind:    snapshot.KindSitemap,
			Sitemap: &snapshot.SitemapState{SiteURL: siteURL, SitemapURL: sitemapURL, Submitted: exists},
		}
		snapID, err := p.snapshots.Create(ctx, t.Name(), platformSearchConsole, siteURL, req.UserID, sitemapURL, before, nil)
		if err != nil {
			return nil, fmt.Errorf("capturing snapshot: %w", err)
		}

		res, err := exec.SubmitSitemap(ctx, siteURL, sitemapURL)
		if err != nil {
			p.audit.LogFailedOperation(ctx, req.UserID, t.Name(), platformSearchConsole, siteURL, err.Error(), req.Params)
			p.notify(ctx, notify.Record{
				Type:      notify.TypeError,
				Priority:  notify.PriorityHigh,
				AccountID: siteURL,
				UserID:    req.UserID,
				Message:   fmt.Sprintf("sitemap submission failed after snapshot %s was captured", snapID),
				Details:   map[string]string{"snapshot_id": snapID, "sitemap_url": sitemapURL},
			})
			return nil, fmt.Errorf("submitting sitemap: %w", err)
		}

		p.recordExecution(ctx, snapID, snapshot.ResourceState{
			Kind:    snapshot.KindSitemap,
			Sitemap: &snapshot.SitemapState{SiteURL: siteURL, SitemapURL: sitemapURL, Submitted: true},
		})

		p.notify(ctx, notify.Record{
			Type:      notify.TypeStatusChange,
			Priority:  notify.PriorityMedium,
			AccountID: siteURL,
			UserID:    req.UserID,
			Message:   fmt.Sprintf("sitemap %s submitted for %s", sitemapURL, siteURL),
			Details:   map[string]string{"snapshot_id": snapID},
		})
		p.audit.LogWriteOperation(ctx, req.UserID, t.Name(), platformSearchConsole, siteURL, snapID, req.Params, time.Since(start))

		return map[string]any{
			"site_url":     siteURL,
			"sitemap_url":  sitemapURL,
			"resubmission": exists,
			"snapshot_id":  snapID,
			"confirmation": res.Confirmation,
			"message":      "sitemap submitted",
		}, nil
	}

	return p.confirmOrPreview(ctx, req, t.Name(), token, dryRun, action)
}

func validateSitemapURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("sitemap_url %q is not an absolute http(s) URL", raw)
	}
	return nil
}

func buildSitemapDryRun(siteURL, sitemapURL string, exists bool) safety.DryRunResult {
	kind := safety.ChangeCreate
	current := "not submitted"
	if exists {
		kind = safety.ChangeUpdate
		current = "submitted"
	}
	b := safety.NewDryRun("submit_sitemap", platformSearchConsole, siteURL).
		AddChange(safety.Change{
			Resource:     "sitemap",
			ResourceID:   sitemapURL,
			Field:        "submitted",
			CurrentValue: current,
			NewValue:     "submitted",
			Kind:         kind,
		})
	if exists {
		b.AddRecommendation("sitemap is already submitted; this resubmits and triggers a re-crawl")
	}
	return b.Build()
}
