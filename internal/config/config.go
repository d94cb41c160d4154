package config

import (
	"fmt"
)

// Server transport kinds.
const (
	ServerKindBuiltin = "builtin"
	ServerKindStdio   = "stdio"
	ServerKindHTTP    = "http"
)

// Layer input modes.
const (
	InputLastMessage    = "last_message"
	InputFullTranscript = "full_transcript"
)

// Layer output modes.
const (
	OutputDiscard = "discard"
	OutputAppend  = "append"
	OutputReplace = "replace"
)

// Config is the fully resolved, immutable strata configuration. It is
// constructed once by the Loader and passed by reference into every
// component constructor; nothing reads configuration ambiently.
type Config struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Tool server registry
	Servers []ServerConfig `json:"servers" mapstructure:"servers"`

	// Global tool deny-list: patterns matched here are refused even when a
	// role's allow-list is empty (empty allow-list means "all tools").
	DenyTools []string `json:"deny_tools" mapstructure:"deny_tools"`

	Roles    []RoleConfig    `json:"roles" mapstructure:"roles"`
	Layers   []LayerConfig   `json:"layers" mapstructure:"layers"`
	Commands []CommandConfig `json:"commands" mapstructure:"commands"`

	Thresholds Thresholds `json:"thresholds" mapstructure:"thresholds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ProvidersConfig holds credentials for each supported model provider.
type ProvidersConfig struct {
	Anthropic  ProviderCredentials `json:"anthropic" mapstructure:"anthropic"`
	OpenAI     ProviderCredentials `json:"openai" mapstructure:"openai"`
	OpenRouter ProviderCredentials `json:"openrouter" mapstructure:"openrouter"`
}

// ProviderCredentials holds API access parameters for one provider.
type ProviderCredentials struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// ServerConfig declares one MCP tool server. Immutable after load.
type ServerConfig struct {
	Name string `json:"name" mapstructure:"name"`
	Kind string `json:"kind" mapstructure:"kind"` // builtin, stdio, http

	// stdio transport
	Command string   `json:"command,omitempty" mapstructure:"command"`
	Args    []string `json:"args,omitempty" mapstructure:"args"`

	// http transport
	URL       string `json:"url,omitempty" mapstructure:"url"`
	AuthToken string `json:"auth_token,omitempty" mapstructure:"auth_token"`

	TimeoutSeconds  int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxStartRetries int `json:"max_start_retries" mapstructure:"max_start_retries"`

	// Tools restricts which of the server's tools are exposed. Empty means
	// every tool the server advertises.
	Tools []string `json:"tools,omitempty" mapstructure:"tools"`
}

// RoleConfig is a named bundle of model, prompt, layer chain and tool
// access policy. Inheritance is resolved at load time: a loaded Config
// only ever contains fully merged roles.
type RoleConfig struct {
	Name     string `json:"name" mapstructure:"name"`
	Inherits string `json:"inherits,omitempty" mapstructure:"inherits"`

	Model       string   `json:"model" mapstructure:"model"`
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int      `json:"max_tokens" mapstructure:"max_tokens"`

	SystemPrompt       string `json:"system_prompt" mapstructure:"system_prompt"`
	Welcome            string `json:"welcome,omitempty" mapstructure:"welcome"`
	CustomInstructions string `json:"custom_instructions,omitempty" mapstructure:"custom_instructions"`

	EnableLayers bool     `json:"enable_layers" mapstructure:"enable_layers"`
	Layers       []string `json:"layers,omitempty" mapstructure:"layers"`

	ServerRefs   []string `json:"server_refs,omitempty" mapstructure:"server_refs"`
	AllowedTools []string `json:"allowed_tools,omitempty" mapstructure:"allowed_tools"`
}

// EffectiveTemperature returns the role temperature or the given default.
func (r *RoleConfig) EffectiveTemperature(def float64) float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return def
}

// LayerConfig describes one AI call stage in a pre-processing chain.
// Immutable after load; referenced by name from a role's layer chain.
type LayerConfig struct {
	Name         string  `json:"name" mapstructure:"name"`
	Model        string  `json:"model,omitempty" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`

	InputMode  string `json:"input_mode" mapstructure:"input_mode"`   // last_message, full_transcript
	OutputMode string `json:"output_mode" mapstructure:"output_mode"` // discard, append, replace

	ServerRefs   []string `json:"server_refs,omitempty" mapstructure:"server_refs"`
	AllowedTools []string `json:"allowed_tools,omitempty" mapstructure:"allowed_tools"`

	// Params are substituted into the system prompt template.
	Params map[string]string `json:"params,omitempty" mapstructure:"params"`
}

// EffectiveModel returns the layer model, falling back to the session model.
func (l *LayerConfig) EffectiveModel(sessionModel string) string {
	if l.Model != "" {
		return l.Model
	}
	return sessionModel
}

// CommandConfig maps a custom slash command to a layer chain. Ephemeral
// commands run through the orchestrator but are excluded from the
// persisted transcript.
type CommandConfig struct {
	Name      string   `json:"name" mapstructure:"name"`
	Layers    []string `json:"layers" mapstructure:"layers"`
	Ephemeral bool     `json:"ephemeral" mapstructure:"ephemeral"`
}

// Thresholds holds the numeric limits the session core enforces.
// A value of 0 always means "disabled".
type Thresholds struct {
	MaxRequestTokens    int     `json:"max_request_tokens" mapstructure:"max_request_tokens"`
	CacheTokens         int     `json:"cache_tokens" mapstructure:"cache_tokens"`
	CacheTimeoutSeconds int     `json:"cache_timeout_seconds" mapstructure:"cache_timeout_seconds"`
	ResponseWarnTokens  int     `json:"response_warn_tokens" mapstructure:"response_warn_tokens"`
	ResponseHardTokens  int     `json:"response_hard_tokens" mapstructure:"response_hard_tokens"`
	AutoTruncate        bool    `json:"auto_truncate" mapstructure:"auto_truncate"`
	SpendThresholdUSD   float64 `json:"spend_threshold_usd" mapstructure:"spend_threshold_usd"`
}

// Server returns the server config with the given name, or nil.
func (c *Config) Server(name string) *ServerConfig {
	for i := range c.Servers {
		if c.Servers[i].Name == name {
			return &c.Servers[i]
		}
	}
	return nil
}

// Role returns the role config with the given name, or nil.
func (c *Config) Role(name string) *RoleConfig {
	for i := range c.Roles {
		if c.Roles[i].Name == name {
			return &c.Roles[i]
		}
	}
	return nil
}

// Layer returns the layer config with the given name, or nil.
func (c *Config) Layer(name string) *LayerConfig {
	for i := range c.Layers {
		if c.Layers[i].Name == name {
			return &c.Layers[i]
		}
	}
	return nil
}

// Command returns the custom command config with the given name, or nil.
func (c *Config) Command(name string) *CommandConfig {
	for i := range c.Commands {
		if c.Commands[i].Name == name {
			return &c.Commands[i]
		}
	}
	return nil
}

// ServersForRefs resolves a list of server names against the registry,
// preserving declaration order. Unknown refs have been rejected by
// validation, so lookups here cannot miss.
func (c *Config) ServersForRefs(refs []string) []ServerConfig {
	servers := make([]ServerConfig, 0, len(refs))
	for _, ref := range refs {
		if s := c.Server(ref); s != nil {
			servers = append(servers, *s)
		}
	}
	return servers
}

// DefaultConfig returns the built-in configuration used when no config
// file exists: builtin tool servers plus a single assistant role.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Servers: []ServerConfig{
			{
				Name:           "filesystem",
				Kind:           ServerKindBuiltin,
				TimeoutSeconds: 30,
			},
			{
				Name:           "developer",
				Kind:           ServerKindBuiltin,
				TimeoutSeconds: 60,
			},
			{
				Name:           "web",
				Kind:           ServerKindBuiltin,
				TimeoutSeconds: 30,
			},
		},
		Roles: []RoleConfig{
			{
				Name:         "assistant",
				Model:        "anthropic:claude-sonnet-4-20250514",
				SystemPrompt: "You are a helpful development assistant.",
				Welcome:      "Session %{session} ready (role %{role}, model %{model}).",
				ServerRefs:   []string{"filesystem", "developer", "web"},
			},
		},
		Thresholds: Thresholds{
			MaxRequestTokens:    96000,
			CacheTokens:         2048,
			CacheTimeoutSeconds: 240,
			ResponseWarnTokens:  10000,
			ResponseHardTokens:  20000,
			AutoTruncate:        true,
		},
	}
}

// ValidationError reports an invalid server, layer, role or command
// definition. Configuration errors are fatal at load and never
// partially applied.
type ValidationError struct {
	Section string
	Name    string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Section, e.Name, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Section, e.Reason)
}
