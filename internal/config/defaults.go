package config

import "time"

// Git defaults
const (
	DefaultBaseBranch   = "main"
	DefaultBranchPrefix = "run/"
)

// Agent defaults
const DefaultAgentCommand = "codex"

// DefaultModels is the allow-list of agent models.
var DefaultModels = []string{"gpt-5.1-codex-mini", "gpt-5.1-codex", "gpt-5.2-codex"}

// Run defaults
const (
	DefaultMaxAttempts      = 3
	DefaultMaxAgentAttempts = 3
)

// Rate limit defaults
const DefaultRateWindow = 60 * time.Second

// Log defaults
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
)
