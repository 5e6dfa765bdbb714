// Package config loads runtime configuration: defaults, then a TOML file,
// then environment variables, with environment variables taking highest
// precedence.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration for the CLI entrypoint: a pool of LLM
// providers, a set of MCP servers, persistence, code execution, and task
// defaults.
type Config struct {
	Providers  []ProviderConfig  `toml:"providers"`
	MCPServers []MCPServerConfig `toml:"mcp_servers"`
	Persist    PersistConfig     `toml:"persist"`
	Code       CodeConfig        `toml:"code"`
	Task       TaskConfig        `toml:"task"`
	Search     SearchConfig      `toml:"search"`
	Observer   ObserverConfig    `toml:"observer"`
}

// ProviderConfig names one entry in the provider pool. Name is how
// components reference it (e.g. task.provider = "default"); Provider
// selects the backend ("gemini", "openai", "groq", "deepseek", "together",
// "mistral", "ollama") resolved via provider/resolve.
type ProviderConfig struct {
	Name        string   `toml:"name"`
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
	Thinking    *bool    `toml:"thinking"`
}

// MCPServerConfig describes one server entry passed to mcpclient.New.
type MCPServerConfig struct {
	Name      string            `toml:"name"`
	Transport string            `toml:"transport"`
	Command   string            `toml:"command"`
	Args      []string          `toml:"args"`
	Env       []string          `toml:"env"`
	URL       string            `toml:"url"`
	Headers   map[string]string `toml:"headers"`
}

// PersistConfig selects and configures the TaskStore backend.
type PersistConfig struct {
	Driver string `toml:"driver"` // "sqlite", "postgres", or "" (disabled)
	Path   string `toml:"path"`   // sqlite file path
	DSN    string `toml:"dsn"`    // postgres connection string
}

// CodeConfig configures the CodeRunner used by every Task.
type CodeConfig struct {
	Runtime        string `toml:"runtime"` // "subprocess" or "http"
	SandboxURL     string `toml:"sandbox_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxOutputBytes int    `toml:"max_output_bytes"`
	Workspace      string `toml:"workspace"`
	EnvPassthrough bool   `toml:"env_passthrough"`
}

// TaskConfig holds per-Task defaults applied when constructing a Task.
type TaskConfig struct {
	Provider   string `toml:"provider"` // name into Providers
	MaxRounds  int    `toml:"max_rounds"`
	MCPEnabled bool   `toml:"mcp_enabled"`
}

// SearchConfig configures tools/search.
type SearchConfig struct {
	BraveAPIKey string `toml:"brave_api_key"`
}

// ObserverConfig enables OTEL cost/usage tracking and per-model pricing.
type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with sensible defaults applied before any file
// or environment override.
func Default() Config {
	return Config{
		Task: TaskConfig{
			Provider:   "default",
			MaxRounds:  25,
			MCPEnabled: true,
		},
		Code: CodeConfig{
			Runtime:        "subprocess",
			TimeoutSeconds: 30,
			MaxOutputBytes: 64 * 1024,
		},
		Persist: PersistConfig{
			Driver: "sqlite",
			Path:   "aicode.db",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). path
// may be empty, in which case "aicode.toml" is tried; a missing file is
// not an error, since defaults plus env vars are a valid configuration.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "aicode.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("AICODE_LLM_API_KEY"); v != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].APIKey == "" {
				cfg.Providers[i].APIKey = v
			}
		}
		if len(cfg.Providers) == 0 {
			cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "default", Provider: "gemini", Model: "gemini-2.5-flash", APIKey: v})
		}
	}
	if v := os.Getenv("AICODE_BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
	if v := os.Getenv("AICODE_DB_PATH"); v != "" {
		cfg.Persist.Path = v
	}
	if v := os.Getenv("AICODE_POSTGRES_DSN"); v != "" {
		cfg.Persist.Driver = "postgres"
		cfg.Persist.DSN = v
	}
	if v := os.Getenv("AICODE_SANDBOX_URL"); v != "" {
		cfg.Code.Runtime = "http"
		cfg.Code.SandboxURL = v
	}
	if os.Getenv("AICODE_OBSERVER_ENABLED") == "true" || os.Getenv("AICODE_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// ProviderByName finds a provider config entry by name, returning ok=false
// if no such entry exists.
func (c Config) ProviderByName(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
