package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Paths names the three files spec.md §6 defines: a workspace-relative
// settings file for non-secret config, and two user-app-data files for
// the secret-bearing provider/patch sections.
type Paths struct {
	WorkspaceSettings string // ./.<app>/settings.json (or .yaml)
	AgentConfig       string // <app-data>/agent-config.json
	MorphConfig       string // <app-data>/morph-config.json
}

// Load reads and merges the three layers named by paths into one
// Config, starting from Default(). Any path left empty is skipped.
// Layer precedence (later wins): Default() -> WorkspaceSettings ->
// AgentConfig -> MorphConfig, matching "env var -> dedicated config ->
// global fallback" for the one field (API keys) present in more than
// one layer.
func Load(paths Paths) (*Config, error) {
	merged := map[string]any{}
	for _, p := range []string{paths.WorkspaceSettings, paths.AgentConfig, paths.MorphConfig} {
		if p == "" {
			continue
		}
		raw, err := loadRawFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: load %s: %w", p, err)
		}
		merged = mergeMaps(merged, raw)
	}

	cfg := Default()
	if len(merged) > 0 {
		if err := decodeInto(merged, cfg); err != nil {
			return nil, fmt.Errorf("config: decode merged config: %w", err)
		}
	}
	return cfg, nil
}

func loadRawFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// mergeMaps deep-merges src over dst, grounded on the teacher's
// loader.go mergeMaps (internal/config/loader.go): nested maps merge
// key-by-key, everything else is overwritten by src.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeInto(raw map[string]any, cfg *Config) error {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(payload, cfg)
}

// WriteAtomic serializes cfg as YAML and writes it to path via a
// write-then-rename, so a crash mid-write never leaves a truncated
// config file behind. Mirrors C4's patch-write atomicity requirement.
func WriteAtomic(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
