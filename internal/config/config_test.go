package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	return path
}

func TestLoadMergesLayersAgentConfigWinsOverSettings(t *testing.T) {
	settings := writeConfig(t, `
agent:
  model: settings-model
  max_tokens: 1000
`)
	agentConfig := writeConfig(t, `
agent:
  model: agent-config-model
providers:
  openai:
    api_key: sk-test-key-0123456789
`)

	cfg, err := Load(Paths{WorkspaceSettings: settings, AgentConfig: agentConfig})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "agent-config-model" {
		t.Fatalf("expected the later layer's model to win, got %q", cfg.Agent.Model)
	}
	if cfg.Agent.MaxTokens != 1000 {
		t.Fatalf("expected the earlier layer's max_tokens to survive the merge, got %d", cfg.Agent.MaxTokens)
	}
	if cfg.Providers["openai"].APIKey != "sk-test-key-0123456789" {
		t.Fatalf("expected provider key from agent-config layer, got %+v", cfg.Providers["openai"])
	}
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	cfg, err := Load(Paths{WorkspaceSettings: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.MaxConcurrentAgents != Default().Orchestrator.MaxConcurrentAgents {
		t.Fatalf("expected defaults to survive an absent file")
	}
}

func TestWriteAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := Default()
	cfg.Agent.Model = "round-trip-model"
	if err := WriteAtomic(path, cfg); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	loaded, err := Load(Paths{WorkspaceSettings: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Agent.Model != "round-trip-model" {
		t.Fatalf("expected round-tripped model, got %q", loaded.Agent.Model)
	}
}

func TestGetAPIKeyPrecedence(t *testing.T) {
	cfg := Default()
	cfg.Providers["openai"] = ProviderConfig{APIKey: "sk-config-key-0123456789"}
	cfg.Providers["default"] = ProviderConfig{APIKey: "sk-fallback-key-0123456789"}

	if key, ok := cfg.GetAPIKey("openai"); !ok || key != "sk-config-key-0123456789" {
		t.Fatalf("expected the dedicated provider key, got %q, %v", key, ok)
	}

	t.Setenv("OPENAI_API_KEY", "sk-env-key-0123456789")
	if key, ok := cfg.GetAPIKey("openai"); !ok || key != "sk-env-key-0123456789" {
		t.Fatalf("expected the env var to take precedence, got %q, %v", key, ok)
	}

	if key, ok := cfg.GetAPIKey("unconfigured"); !ok || key != "sk-fallback-key-0123456789" {
		t.Fatalf("expected the default provider as a global fallback, got %q, %v", key, ok)
	}
}

func TestGetSectionTypeMismatchErrors(t *testing.T) {
	cfg := Default()
	if _, err := GetSection[AgentDefaultsConfig](cfg, "logging"); err == nil {
		t.Fatalf("expected an error requesting the wrong type for a section")
	}
	section, err := GetSection[LoggingConfig](cfg, "logging")
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	if section.Level != "info" {
		t.Fatalf("expected the default logging level, got %q", section.Level)
	}
}

func TestSecretsEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKey: %v", err)
	}

	encrypted, err := EncryptString(key, "sk-super-secret-0123456789")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if encrypted == "sk-super-secret-0123456789" {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}

	decrypted, err := DecryptString(key, encrypted)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if decrypted != "sk-super-secret-0123456789" {
		t.Fatalf("expected round-tripped plaintext, got %q", decrypted)
	}

	reloaded, err := LoadOrCreateKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKey (reload): %v", err)
	}
	if string(reloaded) != string(key) {
		t.Fatalf("expected the persisted key to be reused across loads")
	}
}
