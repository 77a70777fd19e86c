package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yarlson/lever/internal/contextpack"
	"github.com/yarlson/lever/internal/logging"
	"github.com/yarlson/lever/internal/ratelimit"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all lever configuration
type Config struct {
	Tasks     TasksConfig     `mapstructure:"tasks" yaml:"tasks"`
	Git       GitConfig       `mapstructure:"git" yaml:"git"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Run       RunConfig       `mapstructure:"run" yaml:"run"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Context   ContextConfig   `mapstructure:"context" yaml:"context"`
	Loop      LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// TasksConfig locates the task file and the base prompt.
type TasksConfig struct {
	// Path is the task file. Empty means discover prd.json, then tasks.json.
	Path string `mapstructure:"path" yaml:"path"`
	// Prompt is the base prompt file. Empty means the workspace default.
	Prompt string `mapstructure:"prompt" yaml:"prompt"`
}

// GitConfig holds run branch settings
type GitConfig struct {
	BaseBranch   string `mapstructure:"base_branch" yaml:"base_branch"`
	BranchPrefix string `mapstructure:"branch_prefix" yaml:"branch_prefix"`
}

// AgentConfig holds coding agent invocation settings
type AgentConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Models  []string `mapstructure:"models" yaml:"models"`
}

// RunConfig holds per-run limits
type RunConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxAgentAttempts int `mapstructure:"max_agent_attempts" yaml:"max_agent_attempts"`
}

// ModelLimit caps one model. Models are listed rather than keyed because
// model names contain dots.
type ModelLimit struct {
	Name string `mapstructure:"name" yaml:"name"`
	TPM  int    `mapstructure:"tpm" yaml:"tpm"`
	RPM  int    `mapstructure:"rpm" yaml:"rpm"`
}

// RateLimitConfig holds request throttling settings
type RateLimitConfig struct {
	Window   time.Duration      `mapstructure:"window" yaml:"window"`
	Models   []ModelLimit       `mapstructure:"models" yaml:"models"`
	Fallback ratelimit.Settings `mapstructure:"fallback" yaml:"fallback"`
}

// ContextConfig holds context compilation settings
type ContextConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Policy         string   `mapstructure:"policy" yaml:"policy"`
	AssemblyPath   string   `mapstructure:"assembly_path" yaml:"assembly_path"`
	TokenBudget    int      `mapstructure:"token_budget" yaml:"token_budget"`
	Exclude        []string `mapstructure:"exclude" yaml:"exclude"`
	ExcludeRuntime []string `mapstructure:"exclude_runtime" yaml:"exclude_runtime"`
}

// LoopConfig holds loop settings
type LoopConfig struct {
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// LoadConfigWithFile loads configuration from a specific file if provided,
// otherwise falls back to LoadConfig with the working directory.
func LoadConfigWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}
	return LoadConfig(workDir)
}

// LoadConfig loads configuration from lever.yaml in the given directory,
// then from the global config file. If neither exists, defaults are returned.
func LoadConfig(dir string) (*Config, error) {
	v := newViper()
	v.SetConfigName("lever")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		if global, gerr := GlobalConfigPath(); gerr == nil {
			if _, serr := os.Stat(global); serr == nil {
				v.SetConfigFile(global)
				if err := v.ReadInConfig(); err != nil {
					return nil, err
				}
			}
		}
	}

	return decode(v)
}

// LoadConfigFromPath loads configuration from a specific file path.
// A missing file yields defaults.
func LoadConfigFromPath(configPath string) (*Config, error) {
	v := newViper()

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return decode(v)
		}
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("git.base_branch", "LEVER_GIT_BASE_BRANCH", "BASE_BRANCH")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults sets all default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("tasks.path", "")
	v.SetDefault("tasks.prompt", "")

	v.SetDefault("git.base_branch", DefaultBaseBranch)
	v.SetDefault("git.branch_prefix", DefaultBranchPrefix)

	v.SetDefault("agent.command", DefaultAgentCommand)
	v.SetDefault("agent.models", DefaultModels)

	v.SetDefault("run.max_attempts", DefaultMaxAttempts)
	v.SetDefault("run.max_agent_attempts", DefaultMaxAgentAttempts)

	v.SetDefault("rate_limit.window", DefaultRateWindow)
	v.SetDefault("rate_limit.models", defaultModelLimits())
	v.SetDefault("rate_limit.fallback.tpm", ratelimit.FallbackSettings.TPM)
	v.SetDefault("rate_limit.fallback.rpm", ratelimit.FallbackSettings.RPM)

	v.SetDefault("context.enabled", false)
	v.SetDefault("context.policy", string(contextpack.BestEffort))
	v.SetDefault("context.assembly_path", contextpack.DefaultAssemblyPath)
	v.SetDefault("context.token_budget", contextpack.DefaultTokenBudget)
	v.SetDefault("context.exclude", contextpack.DefaultExclude)
	v.SetDefault("context.exclude_runtime", []string{})

	v.SetDefault("loop.delay", time.Duration(0))

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}

func defaultModelLimits() []map[string]any {
	defaults := ratelimit.DefaultSettings()
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		s := defaults[name]
		out = append(out, map[string]any{"name": name, "tpm": s.TPM, "rpm": s.RPM})
	}
	return out
}

// Validate checks every setting that would otherwise fail mid-run.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Git.BaseBranch == "" {
		add("git.base_branch must not be empty")
	}
	if c.Agent.Command == "" {
		add("agent.command must not be empty")
	}
	if len(c.Agent.Models) == 0 {
		add("agent.models must list at least one model")
	}
	if c.Run.MaxAttempts < 1 {
		add("run.max_attempts must be at least 1, got %d", c.Run.MaxAttempts)
	}
	if c.Run.MaxAgentAttempts < 1 {
		add("run.max_agent_attempts must be at least 1, got %d", c.Run.MaxAgentAttempts)
	}
	if c.RateLimit.Window <= 0 {
		add("rate_limit.window must be positive")
	}
	for i, m := range c.RateLimit.Models {
		if m.Name == "" {
			add("rate_limit.models[%d] has no name", i)
		}
		if m.TPM < 0 || m.RPM < 0 {
			add("rate_limit.models[%d] has a negative cap", i)
		}
	}
	if c.Loop.Delay < 0 {
		add("loop.delay must not be negative")
	}
	if err := c.ContextOptions().Validate(); err != nil {
		add("context: %v", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		add("log.format: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ModelAllowed reports whether model is in the agent allow-list.
func (c *Config) ModelAllowed(model string) bool {
	for _, m := range c.Agent.Models {
		if m == model {
			return true
		}
	}
	return false
}

// RateSettings returns the per-model caps keyed by model name.
func (c *Config) RateSettings() map[string]ratelimit.Settings {
	out := make(map[string]ratelimit.Settings, len(c.RateLimit.Models))
	for _, m := range c.RateLimit.Models {
		out[m.Name] = ratelimit.Settings{TPM: m.TPM, RPM: m.RPM}
	}
	return out
}

// ContextOptions converts the context section for the compiler.
func (c *Config) ContextOptions() contextpack.Options {
	return contextpack.Options{
		AssemblyPath:   c.Context.AssemblyPath,
		Policy:         contextpack.Policy(c.Context.Policy),
		TokenBudget:    c.Context.TokenBudget,
		Exclude:        c.Context.Exclude,
		ExcludeRuntime: c.Context.ExcludeRuntime,
	}
}
