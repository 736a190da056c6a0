package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "adgate.yaml", `
authz:
  secret: test-secret
safety:
  max_budget_change_percent: 500
  warn_budget_change_percent: 50
  gradual_change_percent: 200
  max_bulk_items: 20
  token_ttl_minutes: 10
mcp:
  transport: http
  addr: ":9000"
snapshots:
  retention_days: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.MaxBudgetChangePercent != 500 {
		t.Errorf("MaxBudgetChangePercent = %v", cfg.Safety.MaxBudgetChangePercent)
	}
	if cfg.Safety.TokenTTL() != 10*time.Minute {
		t.Errorf("TokenTTL = %v", cfg.Safety.TokenTTL())
	}
	if cfg.MCP.ListenAddr() != ":9000" || cfg.MCP.TransportName() != "http" {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	if cfg.Snapshots.Retention() != 30*24*time.Hour {
		t.Errorf("Retention = %v", cfg.Snapshots.Retention())
	}
	if cfg.StorageDriverName() != "sqlite" {
		t.Errorf("default driver = %q", cfg.StorageDriverName())
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "adgate.json", `{"authz": {"secret": "s"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Unset fields fall back to defaults through accessors.
	if cfg.MCP.TransportName() != "stdio" {
		t.Errorf("default transport = %q", cfg.MCP.TransportName())
	}
	if cfg.Safety.TokenTTL() != 10*time.Minute {
		t.Errorf("default TokenTTL = %v", cfg.Safety.TokenTTL())
	}
	if cfg.Snapshots.PurgeCron() != "30 3 * * *" {
		t.Errorf("default purge cron = %q", cfg.Snapshots.PurgeCron())
	}
}

func TestValidateMissingSecret(t *testing.T) {
	path := writeConfig(t, "adgate.yaml", `mcp: {transport: stdio}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "authz.secret") {
		t.Errorf("Load without secret = %v, want authz.secret error", err)
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	path := writeConfig(t, "adgate.yaml", `
authz: {secret: s}
safety:
  max_budget_change_percent: 100
  warn_budget_change_percent: 150
`)
	if _, err := Load(path); err == nil {
		t.Error("warn threshold above hard cap accepted")
	}
}

func TestValidatePostgresNeedsDSN(t *testing.T) {
	path := writeConfig(t, "adgate.yaml", `
authz: {secret: s}
storage: {driver: postgres}
`)
	if _, err := Load(path); err == nil {
		t.Error("postgres driver without DSN accepted")
	}
}

func TestValidateAdminNeedsKey(t *testing.T) {
	path := writeConfig(t, "adgate.yaml", `
authz: {secret: s}
admin: {enabled: true}
`)
	if _, err := Load(path); err == nil {
		t.Error("enabled admin API without api key accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADGATE_ACCOUNTS_SECRET", "from-env")
	t.Setenv("ADGATE_ADMIN_API_KEY", "key-from-env")

	path := writeConfig(t, "adgate.yaml", `
authz: {secret: from-file}
admin: {enabled: true}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Authz.Secret != "from-env" {
		t.Errorf("Secret = %q, env should take precedence", cfg.Authz.Secret)
	}
	if cfg.Admin.APIKey != "key-from-env" {
		t.Errorf("APIKey = %q", cfg.Admin.APIKey)
	}
}
