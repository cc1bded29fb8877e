// Package config loads the runtime configuration from YAML, expands
// environment variables, and applies defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegis-dev/aegis/internal/approval"
	"github.com/aegis-dev/aegis/internal/budget"
	"github.com/aegis-dev/aegis/internal/providers"
)

// Config is the full runtime configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Budget    BudgetConfig    `yaml:"budget"`
	Storage   StorageConfig   `yaml:"storage"`
	MCP       []MCPServer     `yaml:"mcp_servers,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	Provider      string                     `yaml:"provider"`
	Model         string                     `yaml:"model"`
	SystemPrompt  string                     `yaml:"system_prompt,omitempty"`
	MaxTokens     int                        `yaml:"max_tokens"`
	MaxIterations int                        `yaml:"max_iterations"`
	Anthropic     providers.AnthropicConfig  `yaml:"anthropic,omitempty"`
	OpenAI        providers.OpenAIConfig     `yaml:"openai,omitempty"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	WorkDir       string        `yaml:"work_dir,omitempty"`
}

// ApprovalConfig tunes the confirmation flow.
type ApprovalConfig struct {
	RequestTTL    time.Duration            `yaml:"request_ttl"`
	DefaultMode   string                   `yaml:"default_mode"`
	ToolModes     map[string]string        `yaml:"tool_modes,omitempty"`
	AllowListFile string                   `yaml:"allow_list_file,omitempty"`
	Audit         ApprovalAuditConfig      `yaml:"audit"`
}

// ApprovalAuditConfig controls audit persistence and pruning.
type ApprovalAuditConfig struct {
	PruneSchedule string        `yaml:"prune_schedule"`
	Retention     time.Duration `yaml:"retention"`
}

// BudgetConfig tunes the compaction monitor.
type BudgetConfig struct {
	MaxContextTokens int                   `yaml:"max_context_tokens"`
	ThresholdPercent float64               `yaml:"threshold_percent"`
	Strategy         budget.StrategyConfig `yaml:"strategy"`
}

// StorageConfig locates the local databases.
type StorageConfig struct {
	SessionDB  string `yaml:"session_db"`
	ApprovalDB string `yaml:"approval_db"`
}

// MCPServer describes one remote tool server.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads the YAML config at path, expanding ${VAR} references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 20
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 2 * time.Minute
	}
	if cfg.Tools.MaxConcurrent == 0 {
		cfg.Tools.MaxConcurrent = 4
	}
	if cfg.Approval.RequestTTL == 0 {
		cfg.Approval.RequestTTL = 5 * time.Minute
	}
	if cfg.Approval.DefaultMode == "" {
		cfg.Approval.DefaultMode = string(approval.ConfirmPattern)
	}
	if cfg.Approval.Audit.PruneSchedule == "" {
		cfg.Approval.Audit.PruneSchedule = "0 3 * * *"
	}
	if cfg.Approval.Audit.Retention == 0 {
		cfg.Approval.Audit.Retention = 30 * 24 * time.Hour
	}
	if cfg.Budget.MaxContextTokens == 0 {
		cfg.Budget.MaxContextTokens = 200_000
	}
	if cfg.Budget.ThresholdPercent == 0 {
		cfg.Budget.ThresholdPercent = 0.9
	}
	if cfg.Budget.Strategy.Name == "" {
		cfg.Budget.Strategy.Name = "reactive-overflow"
	}
	if cfg.Storage.SessionDB == "" {
		cfg.Storage.SessionDB = "aegis-sessions.db"
	}
	if cfg.Storage.ApprovalDB == "" {
		cfg.Storage.ApprovalDB = "aegis-approvals.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

func validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if err := validMode(cfg.Approval.DefaultMode); err != nil {
		return fmt.Errorf("approval.default_mode: %w", err)
	}
	for tool, mode := range cfg.Approval.ToolModes {
		if err := validMode(mode); err != nil {
			return fmt.Errorf("approval.tool_modes[%s]: %w", tool, err)
		}
	}
	if cfg.Budget.ThresholdPercent < 0 {
		return fmt.Errorf("budget.threshold_percent must not be negative")
	}
	for i, server := range cfg.MCP {
		if server.Name == "" || server.Command == "" {
			return fmt.Errorf("mcp_servers[%d]: name and command are required", i)
		}
	}
	return nil
}

func validMode(mode string) error {
	switch approval.Mode(mode) {
	case approval.ConfirmAlways, approval.ConfirmNever, approval.ConfirmPattern:
		return nil
	}
	return fmt.Errorf("invalid mode %q", mode)
}

// Policy builds the approval policy from the config.
func (c *Config) Policy() approval.Policy {
	modes := make(map[string]approval.Mode, len(c.Approval.ToolModes))
	for tool, mode := range c.Approval.ToolModes {
		modes[tool] = approval.Mode(mode)
	}
	return approval.PolicyMap{Modes: modes, Default: approval.Mode(c.Approval.DefaultMode)}
}
