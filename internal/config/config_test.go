package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Task.Provider != "default" {
		t.Errorf("expected provider name 'default', got %s", cfg.Task.Provider)
	}
	if cfg.Task.MaxRounds != 25 {
		t.Errorf("expected 25 max rounds, got %d", cfg.Task.MaxRounds)
	}
	if cfg.Persist.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Persist.Driver)
	}
	if cfg.Code.Runtime != "subprocess" {
		t.Errorf("expected subprocess runtime, got %s", cfg.Code.Runtime)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[[providers]]
name = "default"
provider = "gemini"
model = "gemini-2.5-flash"
api_key = "file-key"

[[mcp_servers]]
name = "filesystem"
transport = "stdio"
command = "npx"
args = ["-y", "@modelcontextprotocol/server-filesystem", "/workspace"]

[persist]
driver = "postgres"
dsn = "postgres://localhost/aicode"

[task]
max_rounds = 40
`), 0644)

	cfg := Load(path)
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "file-key" {
		t.Fatalf("unexpected providers: %+v", cfg.Providers)
	}
	if len(cfg.MCPServers) != 1 || cfg.MCPServers[0].Name != "filesystem" {
		t.Fatalf("unexpected mcp servers: %+v", cfg.MCPServers)
	}
	if cfg.Persist.Driver != "postgres" || cfg.Persist.DSN != "postgres://localhost/aicode" {
		t.Errorf("unexpected persist config: %+v", cfg.Persist)
	}
	if cfg.Task.MaxRounds != 40 {
		t.Errorf("expected overridden max rounds 40, got %d", cfg.Task.MaxRounds)
	}
	// Defaults preserved where not overridden.
	if cfg.Code.Runtime != "subprocess" {
		t.Errorf("default runtime should be preserved, got %s", cfg.Code.Runtime)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AICODE_LLM_API_KEY", "env-key")
	t.Setenv("AICODE_BRAVE_API_KEY", "env-brave")
	t.Setenv("AICODE_DB_PATH", "/tmp/env.db")

	cfg := Load("/nonexistent/path.toml")
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "env-key" {
		t.Fatalf("expected a synthesized default provider with env-key, got %+v", cfg.Providers)
	}
	if cfg.Search.BraveAPIKey != "env-brave" {
		t.Errorf("expected env-brave, got %s", cfg.Search.BraveAPIKey)
	}
	if cfg.Persist.Path != "/tmp/env.db" {
		t.Errorf("expected /tmp/env.db, got %s", cfg.Persist.Path)
	}
}

func TestEnvOverrideFillsExistingProviderKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[[providers]]
name = "default"
provider = "gemini"
model = "gemini-2.5-flash"
`), 0644)
	t.Setenv("AICODE_LLM_API_KEY", "env-key")

	cfg := Load(path)
	if cfg.Providers[0].APIKey != "env-key" {
		t.Errorf("expected env key to fill empty provider key, got %q", cfg.Providers[0].APIKey)
	}
}

func TestProviderByName(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{Name: "default", Provider: "gemini"}}

	p, ok := cfg.ProviderByName("default")
	if !ok || p.Provider != "gemini" {
		t.Fatalf("expected to find default provider, got %+v, ok=%v", p, ok)
	}

	if _, ok := cfg.ProviderByName("missing"); ok {
		t.Error("expected ok=false for missing provider")
	}
}
