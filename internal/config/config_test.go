package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/lever/internal/contextpack"
	"github.com/yarlson/lever/internal/ratelimit"
)

// isolate keeps the real global config and environment out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BASE_BRANCH", "")
	t.Setenv("LEVER_GIT_BASE_BRANCH", "")
}

func TestLoadConfig_WithValidFile(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()

	configContent := `
tasks:
  path: "plan/prd.json"
  prompt: "prompts/custom.md"
git:
  base_branch: "trunk"
  branch_prefix: "lever/"
agent:
  command: "/opt/codex"
  models: ["gpt-5.2-codex"]
run:
  max_attempts: 5
rate_limit:
  window: 30s
  models:
    - name: "gpt-5.2-codex"
      tpm: 1000
      rpm: 10
  fallback:
    tpm: 50
    rpm: 5
context:
  enabled: true
  policy: required
  token_budget: 4000
  exclude: ["vendor/**"]
loop:
  delay: 5s
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "lever.yaml"), []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "plan/prd.json", cfg.Tasks.Path)
	assert.Equal(t, "prompts/custom.md", cfg.Tasks.Prompt)
	assert.Equal(t, "trunk", cfg.Git.BaseBranch)
	assert.Equal(t, "lever/", cfg.Git.BranchPrefix)
	assert.Equal(t, "/opt/codex", cfg.Agent.Command)
	assert.Equal(t, []string{"gpt-5.2-codex"}, cfg.Agent.Models)
	assert.Equal(t, 5, cfg.Run.MaxAttempts)
	assert.Equal(t, DefaultMaxAgentAttempts, cfg.Run.MaxAgentAttempts)

	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, map[string]ratelimit.Settings{"gpt-5.2-codex": {TPM: 1000, RPM: 10}}, cfg.RateSettings())
	assert.Equal(t, ratelimit.Settings{TPM: 50, RPM: 5}, cfg.RateLimit.Fallback)

	assert.True(t, cfg.Context.Enabled)
	opts := cfg.ContextOptions()
	assert.Equal(t, contextpack.Required, opts.Policy)
	assert.Equal(t, 4000, opts.TokenBudget)
	assert.Equal(t, []string{"vendor/**"}, opts.Exclude)
	assert.Equal(t, contextpack.DefaultAssemblyPath, opts.AssemblyPath)

	assert.Equal(t, 5*time.Second, cfg.Loop.Delay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_WithDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.Tasks.Path)
	assert.Equal(t, "main", cfg.Git.BaseBranch)
	assert.Equal(t, "run/", cfg.Git.BranchPrefix)
	assert.Equal(t, "codex", cfg.Agent.Command)
	assert.Equal(t, DefaultModels, cfg.Agent.Models)
	assert.Equal(t, 3, cfg.Run.MaxAttempts)
	assert.Equal(t, 3, cfg.Run.MaxAgentAttempts)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, ratelimit.DefaultSettings(), cfg.RateSettings())
	assert.Equal(t, ratelimit.FallbackSettings, cfg.RateLimit.Fallback)
	assert.False(t, cfg.Context.Enabled)
	assert.Equal(t, "best-effort", cfg.Context.Policy)
	assert.Equal(t, 8000, cfg.Context.TokenBudget)
	assert.Equal(t, []string{".git/**", ".ralph/**"}, cfg.Context.Exclude)
	assert.Empty(t, cfg.Context.ExcludeRuntime)
	assert.Zero(t, cfg.Loop.Delay)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_PartialOverride(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()

	configContent := `
git:
  branch_prefix: "work/"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "lever.yaml"), []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "work/", cfg.Git.BranchPrefix)
	assert.Equal(t, "main", cfg.Git.BaseBranch)
	assert.Equal(t, 3, cfg.Run.MaxAttempts)
}

func TestLoadConfig_BaseBranchFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("BASE_BRANCH", "develop")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "develop", cfg.Git.BaseBranch)
}

func TestLoadConfig_GlobalFallback(t *testing.T) {
	isolate(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	global := filepath.Join(xdg, "lever", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(global), 0755))
	require.NoError(t, os.WriteFile(global, []byte("run:\n  max_attempts: 7\n"), 0644))

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Run.MaxAttempts)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()

	invalidContent := `
git:
  base_branch: [invalid
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "lever.yaml"), []byte(invalidContent), 0644))

	_, err := LoadConfig(tmpDir)
	assert.Error(t, err)
}

func TestLoadConfigFromPath(t *testing.T) {
	isolate(t)

	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "codex", cfg.Agent.Command)
	})

	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agent:\n  command: my-agent\n"), 0644))

		cfg, err := LoadConfigWithFile(t.TempDir(), path)
		require.NoError(t, err)
		assert.Equal(t, "my-agent", cfg.Agent.Command)
	})
}

func TestConfig_Validate(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty base branch", func(c *Config) { c.Git.BaseBranch = "" }, "git.base_branch"},
		{"no models", func(c *Config) { c.Agent.Models = nil }, "agent.models"},
		{"zero attempts", func(c *Config) { c.Run.MaxAttempts = 0 }, "run.max_attempts"},
		{"bad policy", func(c *Config) { c.Context.Policy = "sometimes" }, "context policy"},
		{"bad glob", func(c *Config) { c.Context.Exclude = []string{"[a-"} }, "exclude pattern"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative delay", func(c *Config) { c.Loop.Delay = -time.Second }, "loop.delay"},
		{"unnamed model", func(c *Config) { c.RateLimit.Models = []ModelLimit{{TPM: 1}} }, "has no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(t.TempDir())
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ModelAllowed(t *testing.T) {
	cfg := &Config{Agent: AgentConfig{Models: []string{"gpt-5.1-codex"}}}
	assert.True(t, cfg.ModelAllowed("gpt-5.1-codex"))
	assert.False(t, cfg.ModelAllowed("gpt-4"))
	assert.False(t, cfg.ModelAllowed("human"))
}
