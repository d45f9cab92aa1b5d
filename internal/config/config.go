// Package config handles loading and validating nafsi configuration.
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

	"github.com/jkaninda/nafsi/internal/actions"
	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/dream"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/memory"
	"github.com/jkaninda/nafsi/internal/ratelimit"
)

func init() {
	// Load .env file if it exists.
	_ = godotenv.Load()
}

// Config is the root configuration for nafsi.
type Config struct {
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.nafsi. Override: NAFSI_DATA_DIR.

	Storage   *StorageConfig   `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir).
	Providers ProvidersConfig  `json:"providers" yaml:"providers"`
	Embedding *EmbeddingConfig `json:"embedding,omitempty" yaml:"embedding,omitempty"` // nil = local hashing embedder.

	Limbic      *limbic.Config     `json:"limbic,omitempty" yaml:"limbic,omitempty"`
	Memory      *memory.Config     `json:"memory,omitempty" yaml:"memory,omitempty"`
	Agency      *agency.Config     `json:"agency,omitempty" yaml:"agency,omitempty"`
	Dream       *dream.Config      `json:"dream,omitempty" yaml:"dream,omitempty"`
	Core        *core.Config       `json:"core,omitempty" yaml:"core,omitempty"`
	Monologue   *MonologueConfig   `json:"monologue,omitempty" yaml:"monologue,omitempty"`
	Degradation *DegradationConfig `json:"degradation,omitempty" yaml:"degradation,omitempty"`
	Scheduler   *SchedulerConfig   `json:"scheduler,omitempty" yaml:"scheduler,omitempty"` // nil = background jobs disabled.
	Sync        *SyncConfig        `json:"sync,omitempty" yaml:"sync,omitempty"`           // nil = device sync endpoints disabled.

	Actions       *ActionsConfig       `json:"actions,omitempty" yaml:"actions,omitempty"` // nil = no side-effecting actions.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from DataDir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
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
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from DataDir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: NAFSI_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ProvidersConfig configures generation providers. Fallback order is
// anthropic, openai, ollama — whichever are configured.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional.
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// EmbeddingConfig selects the embedding provider. When nil, the local
// hashing embedder is used and retrieval quality is reduced accordingly.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // "openai" or "local" (default).
	APIKey     string `json:"api_key" yaml:"api_key"`   // Override: OPENAI_API_KEY when empty.
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
}

// MonologueConfig tunes the deliberation step.
type MonologueConfig struct {
	PerspectiveTimeoutS int `json:"perspective_timeout_s" yaml:"perspective_timeout_s"` // Default: 25.
}

// PerspectiveTimeout returns the per-perspective deadline.
func (m *MonologueConfig) PerspectiveTimeout() time.Duration {
	if m == nil || m.PerspectiveTimeoutS <= 0 {
		return 25 * time.Second
	}
	return time.Duration(m.PerspectiveTimeoutS) * time.Second
}

// DegradationConfig tunes the capability supervisor.
type DegradationConfig struct {
	ProbeIntervalS int `json:"probe_interval_s" yaml:"probe_interval_s"` // Default: 30.
	ProbeTimeoutS  int `json:"probe_timeout_s" yaml:"probe_timeout_s"`   // Default: 5.
	Threshold      int `json:"threshold" yaml:"threshold"`               // Consecutive probes to flip health. Default: 3.
}

func (d *DegradationConfig) ProbeInterval() time.Duration {
	if d == nil || d.ProbeIntervalS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.ProbeIntervalS) * time.Second
}

func (d *DegradationConfig) ProbeTimeout() time.Duration {
	if d == nil || d.ProbeTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(d.ProbeTimeoutS) * time.Second
}

func (d *DegradationConfig) ProbeThreshold() int {
	if d == nil || d.Threshold <= 0 {
		return 3
	}
	return d.Threshold
}

// SchedulerConfig configures background jobs. Cron specs use the standard
// five-field format.
type SchedulerConfig struct {
	DreamSpec string `json:"dream_spec" yaml:"dream_spec"` // Default: "0 */6 * * *" (every six hours).
	SweepSpec string `json:"sweep_spec" yaml:"sweep_spec"` // Default: "*/15 * * * *" (memory hygiene).
	DecaySpec string `json:"decay_spec" yaml:"decay_spec"` // Default: "0 * * * *" (idle affect decay).
}

func (s *SchedulerConfig) Dream() string {
	if s == nil || s.DreamSpec == "" {
		return "0 */6 * * *"
	}
	return s.DreamSpec
}

func (s *SchedulerConfig) Sweep() string {
	if s == nil || s.SweepSpec == "" {
		return "*/15 * * * *"
	}
	return s.SweepSpec
}

func (s *SchedulerConfig) Decay() string {
	if s == nil || s.DecaySpec == "" {
		return "0 * * * *"
	}
	return s.DecaySpec
}

// SyncConfig enables the device sync endpoints.
type SyncConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ActionsConfig configures the side-effect executors behind the agency
// gate.
type ActionsConfig struct {
	FileRoot    string                    `json:"file_root" yaml:"file_root"` // Root for file.read/file.write. Default: <data_dir>/files.
	EnableWrite bool                      `json:"enable_write" yaml:"enable_write"`
	NotePath    string                    `json:"note_path" yaml:"note_path"` // Journal for memory.note. Default: <data_dir>/notes.log.
	MCPServers  []actions.MCPServerConfig `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
}

// ServerConfig configures the HTTP/WebSocket gateway.
type ServerConfig struct {
	Addr      string            `json:"addr" yaml:"addr"`           // Default: ":8087".
	APIToken  string            `json:"api_token" yaml:"api_token"` // Bearer token. Override: NAFSI_API_TOKEN. Empty = unauthenticated.
	RateLimit *ratelimit.Config `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// ListenAddr returns the configured listen address, defaulting to ":8087".
func (s *ServerConfig) ListenAddr() string {
	if s == nil || s.Addr == "" {
		return ":8087"
	}
	return s.Addr
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics".
}

// MetricsPath returns the exposition path, defaulting to "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m == nil || m.Path == "" {
		return "/metrics"
	}
	return m.Path
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "nafsi".
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint host:port.
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" (default) or "http".
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"` // Default: 1.0.
}

// DefaultConfigPath returns the default config file path (~/.nafsi/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/nafsi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".nafsi", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider keys and server tokens can be set in the config
// file or overridden by environment variables; environment takes precedence.
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

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides. Env vars take precedence
// over config file values.
func (c *Config) applyEnv() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
		if c.Embedding != nil && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = envKey
		}
	}
	if envDD := os.Getenv("NAFSI_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("NAFSI_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envTok := os.Getenv("NAFSI_API_TOKEN"); envTok != "" {
		c.Server.APIToken = envTok
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func (c *Config) Validate() error {
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage driver is postgres but no DSN is configured")
		}
	}
	if c.Embedding != nil && c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding provider is openai but no API key is configured")
	}
	if c.Actions != nil {
		for i := range c.Actions.MCPServers {
			s := &c.Actions.MCPServers[i]
			if s.Name == "" {
				return fmt.Errorf("mcp server %d has no name", i)
			}
			switch s.Transport {
			case "", "stdio":
				if s.Command == "" {
					return fmt.Errorf("mcp server %q uses stdio but has no command", s.Name)
				}
			case "sse", "streamable_http":
				if s.URL == "" {
					return fmt.Errorf("mcp server %q uses %s but has no url", s.Name, s.Transport)
				}
			default:
				return fmt.Errorf("mcp server %q has unknown transport %q", s.Name, s.Transport)
			}
		}
	}
	return nil
}

// HasGeneration reports whether at least one generation provider is
// configured. Without one the core runs permanently degraded.
func (c *Config) HasGeneration() bool {
	return c.Providers.Anthropic.APIKey != "" ||
		c.Providers.OpenAI.APIKey != "" ||
		c.Providers.Ollama.Model != ""
}

// ResolvedDataDir returns the data directory, defaulting to ~/.nafsi.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		if resolved, err := resolvePath(c.DataDir); err == nil {
			return resolved
		}
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nafsi"
	}
	return filepath.Join(home, ".nafsi")
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "nafsi.db")
}

// FileActionRoot returns the root directory for file actions.
func (c *Config) FileActionRoot() string {
	if c.Actions != nil && c.Actions.FileRoot != "" {
		return c.Actions.FileRoot
	}
	return filepath.Join(c.ResolvedDataDir(), "files")
}

// NotePath returns the journal path for memory.note actions.
func (c *Config) NotePath() string {
	if c.Actions != nil && c.Actions.NotePath != "" {
		return c.Actions.NotePath
	}
	return filepath.Join(c.ResolvedDataDir(), "notes.log")
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
