package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory executor used for local development and tests. It
// records a change-history entry for every write so the verifier can be
// exercised end-to-end without platform credentials.
type Memory struct {
	mu        sync.Mutex
	name      string
	budgets   map[string]*Budget   // key: accountID/budgetID
	campaigns map[string]*Campaign // key: accountID/campaignID
	sitemaps  map[string]bool      // key: siteURL/sitemapURL
	history   map[string][]ChangeEvent

	// FailNext, when set, makes the next call return this error. Testing
	// hook for failure paths.
	FailNext error
}

// NewMemory creates an in-memory executor under the given platform name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:      name,
		budgets:   make(map[string]*Budget),
		campaigns: make(map[string]*Campaign),
		sitemaps:  make(map[string]bool),
		history:   make(map[string][]ChangeEvent),
	}
}

func (m *Memory) Name() string { return m.name }

// SeedBudget installs a budget so reads have something to return.
func (m *Memory) SeedBudget(accountID string, b Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := b
	m.budgets[accountID+"/"+b.ID] = &cp
}

// SeedCampaign installs a campaign.
func (m *Memory) SeedCampaign(accountID string, c Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.campaigns[accountID+"/"+c.ID] = &cp
}

func (m *Memory) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *Memory) GetBudget(_ context.Context, accountID, budgetID string) (*Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	b, ok := m.budgets[accountID+"/"+budgetID]
	if !ok {
		return nil, &Error{Platform: m.name, Code: "NOT_FOUND", Message: fmt.Sprintf("budget %s not found", budgetID)}
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) SetBudget(_ context.Context, accountID, budgetID string, amountMicros int64) (*WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	b, ok := m.budgets[accountID+"/"+budgetID]
	if !ok {
		return nil, &Error{Platform: m.name, Code: "NOT_FOUND", Message: fmt.Sprintf("budget %s not found", budgetID)}
	}
	b.AmountMicros = amountMicros
	m.record(accountID, ChangeEvent{
		ResourceType: "campaign_budget",
		ResourceID:   budgetID,
		Field:        "amount_micros",
		NewValue:     fmt.Sprintf("%d", amountMicros),
		ChangedAt:    time.Now().UTC(),
	})
	return &WriteResult{ResourceID: budgetID, Confirmation: fmt.Sprintf("budget %s set to %d", budgetID, amountMicros)}, nil
}

func (m *Memory) ListCampaigns(_ context.Context, accountID string) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	var out []Campaign
	prefix := accountID + "/"
	for key, c := range m.campaigns {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, *c)
		}
	}
	// Map iteration order is random; the dry-run hash binds to the ordered
	// change list, so listing order must be stable across preview and confirm.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetCampaignStatus(_ context.Context, accountID, campaignID, status string) (*WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	c, ok := m.campaigns[accountID+"/"+campaignID]
	if !ok {
		return nil, &Error{Platform: m.name, Code: "NOT_FOUND", Message: fmt.Sprintf("campaign %s not found", campaignID)}
	}
	c.Status = status
	m.record(accountID, ChangeEvent{
		ResourceType: "campaign",
		ResourceID:   campaignID,
		Field:        "status",
		NewValue:     status,
		ChangedAt:    time.Now().UTC(),
	})
	return &WriteResult{ResourceID: campaignID, Confirmation: fmt.Sprintf("campaign %s → %s", campaignID, status)}, nil
}

func (m *Memory) GetSitemap(_ context.Context, siteURL, sitemapURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	return m.sitemaps[siteURL+"/"+sitemapURL], nil
}

func (m *Memory) SubmitSitemap(_ context.Context, siteURL, sitemapURL string) (*WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.sitemaps[siteURL+"/"+sitemapURL] = true
	m.record(siteURL, ChangeEvent{
		ResourceType: "sitemap",
		ResourceID:   sitemapURL,
		Field:        "submitted",
		NewValue:     "true",
		ChangedAt:    time.Now().UTC(),
	})
	return &WriteResult{ResourceID: sitemapURL, Confirmation: "sitemap submitted"}, nil
}

func (m *Memory) DeleteSitemap(_ context.Context, siteURL, sitemapURL string) (*WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	delete(m.sitemaps, siteURL+"/"+sitemapURL)
	m.record(siteURL, ChangeEvent{
		ResourceType: "sitemap",
		ResourceID:   sitemapURL,
		Field:        "submitted",
		NewValue:     "false",
		ChangedAt:    time.Now().UTC(),
	})
	return &WriteResult{ResourceID: sitemapURL, Confirmation: "sitemap removed"}, nil
}

func (m *Memory) ChangeHistory(_ context.Context, accountID string, since time.Time) ([]ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	var out []ChangeEvent
	for _, ev := range m.history[accountID] {
		if !ev.ChangedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) record(accountID string, ev ChangeEvent) {
	m.history[accountID] = append(m.history[accountID], ev)
}
