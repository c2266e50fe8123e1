package config

import (
	"fmt"
	"os"
	"strings"
)

// envVarOverrides names the recognized environment variables spec.md §6
// calls out explicitly; any other provider falls back to
// <PROVIDER>_API_KEY.
var envVarOverrides = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"patch":      "MORPH_API_KEY",
	"morph":      "MORPH_API_KEY",
}

// GetAPIKey implements the get_api_key(provider) -> string? contract:
// precedence is env var -> dedicated provider config -> the "default"
// provider's key as a global fallback.
func (c *Config) GetAPIKey(provider string) (string, bool) {
	envVar, ok := envVarOverrides[provider]
	if !ok {
		envVar = strings.ToUpper(provider) + "_API_KEY"
	}
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v, true
	}

	if provider == "patch" || provider == "morph" {
		if c.Patch.APIKey != "" {
			return c.Patch.APIKey, true
		}
	} else if pc, ok := c.Providers[provider]; ok && pc.APIKey != "" {
		return pc.APIKey, true
	}

	if fb, ok := c.Providers["default"]; ok && fb.APIKey != "" {
		return fb.APIKey, true
	}
	return "", false
}

// GetSection implements the get_config(section) -> T contract. T must
// match the concrete type of the named section exactly; a mismatch is
// a caller bug, reported as an error rather than a zero value so it is
// never silently mistaken for "section empty".
func GetSection[T any](cfg *Config, section string) (T, error) {
	var zero T
	var raw any
	switch section {
	case "agent":
		raw = cfg.Agent
	case "orchestrator":
		raw = cfg.Orchestrator
	case "logging":
		raw = cfg.Logging
	case "performance":
		raw = cfg.Performance
	case "patch":
		raw = cfg.Patch
	case "providers":
		raw = cfg.Providers
	case "sessions":
		raw = cfg.Sessions
	default:
		return zero, fmt.Errorf("config: unknown section %q", section)
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("config: section %q is not of the requested type", section)
	}
	return typed, nil
}
