package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegis-dev/aegis/internal/approval"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: claude-sonnet-4-20250514
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.Tools.Timeout != 2*time.Minute {
		t.Errorf("tools timeout = %v", cfg.Tools.Timeout)
	}
	if cfg.Budget.ThresholdPercent != 0.9 {
		t.Errorf("threshold = %v", cfg.Budget.ThresholdPercent)
	}
	if cfg.Approval.DefaultMode != string(approval.ConfirmPattern) {
		t.Errorf("default mode = %q", cfg.Approval.DefaultMode)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q", cfg.Logging.Format)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-from-env")
	path := writeConfig(t, `
llm:
  provider: openai
  openai:
    api_key: ${TEST_API_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-from-env" {
		t.Fatalf("api key = %q", cfg.LLM.OpenAI.APIKey)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"unknown provider": "llm:\n  provider: psychic\n",
		"bad default mode": "approval:\n  default_mode: sometimes\n",
		"bad tool mode":    "approval:\n  tool_modes:\n    shell: whenever\n",
		"mcp missing name": "mcp_servers:\n  - command: server\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	path := writeConfig(t, `
approval:
  default_mode: always
  tool_modes:
    time: never
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	policy := cfg.Policy()
	if policy.ModeFor("time") != approval.ConfirmNever {
		t.Errorf("time mode = %v", policy.ModeFor("time"))
	}
	if policy.ModeFor("shell") != approval.ConfirmAlways {
		t.Errorf("fallback mode = %v", policy.ModeFor("shell"))
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
