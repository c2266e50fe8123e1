// Package config implements C9, the config & secret store's external
// interface: API key lookup with env/config/fallback precedence,
// typed read/write of configuration sections, atomic writes, and
// at-rest secret encryption. Grounded on the teacher's internal/config
// package: the section-per-file layout (config.go plus the
// config_*.go satellites), the yaml.v3 struct tags, and the
// invopop/jsonschema reflection in schema.go, retargeted from Nexus's
// gateway/channel/plugin sections to forge's provider/patch/agent
// sections.
package config

import "time"

// Config is forge's root configuration document, matching the
// persisted-state layout of spec.md §6: non-secret fields live in the
// workspace settings file, provider/patch API keys live in the
// user-app-data config files. secrets.go supplies encryption helpers,
// but neither Load nor WriteAtomic calls them: keys are read and
// written as plaintext.
type Config struct {
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Patch        PatchServiceConfig        `yaml:"patch"`
	Agent        AgentDefaultsConfig       `yaml:"agent"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	Sessions     SessionStoreConfig        `yaml:"sessions"`
	Logging      LoggingConfig             `yaml:"logging"`
	Performance  PerformanceConfig         `yaml:"performance"`
}

// SessionStoreConfig selects and configures C8's backend. Backend is
// "memory" (the default, non-durable) or "sqlite" (durable, a single
// modernc.org/sqlite-backed file at Path).
type SessionStoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ProviderConfig configures one chat-completion provider (C1). Region/
// AccessKeyID/SecretAccessKey/SessionToken are only meaningful for the
// "bedrock" entry, which authenticates via AWS credentials rather than
// a bearer API key.
type ProviderConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"default_model"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// PatchServiceConfig configures C4's patch engine: the workspace root
// its local and remote strategies resolve paths against, whether a
// failed remote apply falls back to the local dialect, and the remote
// fast-apply endpoint's credentials.
type PatchServiceConfig struct {
	Workspace      string `yaml:"workspace"`
	EnableFallback bool   `yaml:"enable_fallback"`
	APIKey         string `yaml:"api_key"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
}

// AgentDefaultsConfig seeds models.AgentConfig for agents created
// without an explicit override.
type AgentDefaultsConfig struct {
	Provider           string  `yaml:"provider"`
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	TopP               float64 `yaml:"top_p"`
	MaxTokens          int     `yaml:"max_tokens"`
	MaxHistoryMessages int     `yaml:"max_history_messages"`
	EnableTools        bool    `yaml:"enable_tools"`
}

// OrchestratorConfig seeds orchestrator.Config.
type OrchestratorConfig struct {
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`
	QueueDepth          int `yaml:"queue_depth"`
}

// LoggingConfig seeds obs.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PerformanceConfig seeds C10's performance tracker.
type PerformanceConfig struct {
	LogPath        string        `yaml:"log_path"`
	ReportWindow   time.Duration `yaml:"report_window"`
}

// Default returns a Config with conservative, documented defaults,
// applied before any file is merged over it.
func Default() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{},
		Patch: PatchServiceConfig{
			Workspace:      ".",
			EnableFallback: true,
		},
		Sessions: SessionStoreConfig{
			Backend: "memory",
		},
		Agent: AgentDefaultsConfig{
			Provider:           "openrouter",
			Temperature:        1.0,
			TopP:               1.0,
			MaxHistoryMessages: 200,
			EnableTools:        true,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentAgents: 8,
			QueueDepth:          16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Performance: PerformanceConfig{
			ReportWindow: 24 * time.Hour,
		},
	}
}
