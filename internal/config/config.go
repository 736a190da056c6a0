// Package config handles loading and validating AdGate configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for AdGate.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.adgate/data. Override: ADGATE_DATA_DIR.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Safety        SafetyConfig         `json:"safety" yaml:"safety"`
	Authz         AuthzConfig          `json:"authz" yaml:"authz"`
	MCP           MCPConfig            `json:"mcp" yaml:"mcp"`
	Admin         AdminConfig          `json:"admin" yaml:"admin"`
	Snapshots     SnapshotConfig       `json:"snapshots" yaml:"snapshots"`
	Notification  *NotificationConfig  `json:"notification,omitempty" yaml:"notification,omitempty"`   // nil = log sender only
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"` // Default: 25
	MaxIdleConns int    `json:"max_idle_conns" yaml:"max_idle_conns"` // Default: 5
}

// SafetyConfig holds the policy thresholds every write tool shares. Zero
// values fall back to the reference defaults; the thresholds are global, not
// per-tenant.
type SafetyConfig struct {
	MaxBudgetChangePercent  float64 `json:"max_budget_change_percent" yaml:"max_budget_change_percent"`   // Hard cap. Default: 500.
	WarnBudgetChangePercent float64 `json:"warn_budget_change_percent" yaml:"warn_budget_change_percent"` // Warning threshold. Default: 50.
	GradualChangePercent    float64 `json:"gradual_change_percent" yaml:"gradual_change_percent"`         // Staged-change recommendation. Default: 200.
	MaxBulkItems            int     `json:"max_bulk_items" yaml:"max_bulk_items"`                         // Bulk pattern ceiling. Default: 20.
	TokenTTLMinutes         int     `json:"token_ttl_minutes" yaml:"token_ttl_minutes"`                   // Confirmation token TTL. Default: 10.
}

// TokenTTL returns the confirmation-token lifetime.
func (s SafetyConfig) TokenTTL() time.Duration {
	if s.TokenTTLMinutes > 0 {
		return time.Duration(s.TokenTTLMinutes) * time.Minute
	}
	return 10 * time.Minute
}

// AuthzConfig configures the account authorization gate.
type AuthzConfig struct {
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"` // Shared secret. Override: ADGATE_ACCOUNTS_SECRET. Required.
}

// MCPConfig configures the MCP transport.
type MCPConfig struct {
	Transport string `json:"transport" yaml:"transport"` // "stdio" (default) or "http".
	Addr      string `json:"addr" yaml:"addr"`           // HTTP listen address. Default: ":8480".
}

// ListenAddr returns the MCP HTTP listen address.
func (m MCPConfig) ListenAddr() string {
	if m.Addr != "" {
		return m.Addr
	}
	return ":8480"
}

// TransportName returns the configured transport, defaulting to stdio.
func (m MCPConfig) TransportName() string {
	if m.Transport != "" {
		return m.Transport
	}
	return "stdio"
}

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Addr              string `json:"addr" yaml:"addr"`                               // Default: ":8481".
	APIKey            string `json:"api_key,omitempty" yaml:"api_key,omitempty"`     // Override: ADGATE_ADMIN_API_KEY. Required when enabled.
	RateLimitPerMin   int    `json:"rate_limit_per_min" yaml:"rate_limit_per_min"`   // Default: 120.
	RateLimitBurst    int    `json:"rate_limit_burst" yaml:"rate_limit_burst"`       // Default: 20.
	ShutdownTimeoutMS int    `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"` // Default: 10000.
	ApprovalTTLHours  int    `json:"approval_ttl_hours" yaml:"approval_ttl_hours"`   // Human approval request TTL. Default: 24.
}

// ListenAddr returns the admin listen address.
func (a AdminConfig) ListenAddr() string {
	if a.Addr != "" {
		return a.Addr
	}
	return ":8481"
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (a AdminConfig) ShutdownTimeout() time.Duration {
	if a.ShutdownTimeoutMS > 0 {
		return time.Duration(a.ShutdownTimeoutMS) * time.Millisecond
	}
	return 10 * time.Second
}

// ApprovalTTL returns the human approval request lifetime.
func (a AdminConfig) ApprovalTTL() time.Duration {
	if a.ApprovalTTLHours > 0 {
		return time.Duration(a.ApprovalTTLHours) * time.Hour
	}
	return 24 * time.Hour
}

// SnapshotConfig configures snapshot retention and housekeeping.
type SnapshotConfig struct {
	RetentionDays int    `json:"retention_days" yaml:"retention_days"` // Default: 90.
	PurgeSchedule string `json:"purge_schedule" yaml:"purge_schedule"` // Cron expression. Default: "30 3 * * *".
}

// Retention returns the snapshot retention window.
func (s SnapshotConfig) Retention() time.Duration {
	days := s.RetentionDays
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

// PurgeCron returns the purge cron expression.
func (s SnapshotConfig) PurgeCron() string {
	if s.PurgeSchedule != "" {
		return s.PurgeSchedule
	}
	return "30 3 * * *"
}

// NotificationConfig configures the notification dispatcher.
type NotificationConfig struct {
	WebhookURL     string            `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`       // Override: ADGATE_WEBHOOK_URL.
	DigestSchedule string            `json:"digest_schedule" yaml:"digest_schedule"`                   // Cron expression. Default: "0 * * * *".
	AccountOwners  map[string]string `json:"account_owners,omitempty" yaml:"account_owners,omitempty"` // account id → owner group for digest batching.
}

// DigestCron returns the hourly digest cron expression.
func (n *NotificationConfig) DigestCron() string {
	if n != nil && n.DigestSchedule != "" {
		return n.DigestSchedule
	}
	return "0 * * * *"
}

// ObservabilityConfig groups metrics, tracing, and anomaly detection.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the metrics endpoint path.
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "adgate"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection over blocked and
// failed operations.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	BlockRateThreshold float64 `json:"block_rate_threshold" yaml:"block_rate_threshold"` // e.g. 0.5 = 50% of requests blocked
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// DefaultConfigPath returns the default config file path (~/.adgate/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/adgate.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".adgate", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets can be set in the config file or overridden by
// environment variables; environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ADGATE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ADGATE_ACCOUNTS_SECRET"); v != "" {
		c.Authz.Secret = v
	}
	if v := os.Getenv("ADGATE_ADMIN_API_KEY"); v != "" {
		c.Admin.APIKey = v
	}
	if v := os.Getenv("ADGATE_WEBHOOK_URL"); v != "" {
		if c.Notification == nil {
			c.Notification = &NotificationConfig{}
		}
		c.Notification.WebhookURL = v
	}
	if v := os.Getenv("ADGATE_POSTGRES_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".adgate", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "adgate.db")
}

// AuditLogPath returns the default audit log path under the data directory.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Authz.Secret == "" {
		return fmt.Errorf("authz.secret is required (or set ADGATE_ACCOUNTS_SECRET)")
	}

	switch c.StorageDriverName() {
	case "sqlite":
	case "postgres":
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite or postgres)", c.StorageDriverName())
	}

	switch c.MCP.TransportName() {
	case "stdio", "http":
	default:
		return fmt.Errorf("unknown mcp transport %q (want stdio or http)", c.MCP.TransportName())
	}

	if c.Admin.Enabled && c.Admin.APIKey == "" {
		return fmt.Errorf("admin.api_key is required when the admin API is enabled (or set ADGATE_ADMIN_API_KEY)")
	}

	s := &c.Safety
	if s.MaxBudgetChangePercent < 0 || s.WarnBudgetChangePercent < 0 || s.GradualChangePercent < 0 {
		return fmt.Errorf("safety thresholds must be non-negative")
	}
	if s.MaxBudgetChangePercent > 0 {
		warn := s.WarnBudgetChangePercent
		gradual := s.GradualChangePercent
		if warn > 0 && warn > s.MaxBudgetChangePercent {
			return fmt.Errorf("safety.warn_budget_change_percent (%.0f) exceeds the hard cap (%.0f)", warn, s.MaxBudgetChangePercent)
		}
		if gradual > 0 && gradual > s.MaxBudgetChangePercent {
			return fmt.Errorf("safety.gradual_change_percent (%.0f) exceeds the hard cap (%.0f)", gradual, s.MaxBudgetChangePercent)
		}
	}
	if s.MaxBulkItems < 0 {
		return fmt.Errorf("safety.max_bulk_items must be non-negative")
	}

	if c.Notification != nil && c.Notification.WebhookURL != "" {
		if !strings.HasPrefix(c.Notification.WebhookURL, "http://") && !strings.HasPrefix(c.Notification.WebhookURL, "https://") {
			return fmt.Errorf("notification.webhook_url must be an http(s) URL")
		}
	}

	return nil
}
