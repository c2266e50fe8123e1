package main

import (
	"context"

	"github.com/forgehq/forge/internal/config"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/obs"
	"github.com/forgehq/forge/internal/transport"
	"github.com/forgehq/forge/internal/transport/providers"
)

// buildProviders constructs every transport.Provider named in
// cfg.Providers (or, for "openrouter", required even when absent since
// it is the default backend) and returns them keyed by name so a
// per-agent AgentConfig.Provider selects which one drives that agent.
// A provider entry that fails to construct (missing credentials) is
// logged and skipped rather than failing the whole stack, since an
// operator may only have credentials for one or two of the three.
func buildProviders(ctx context.Context, cfg *config.Config, logger *obs.Logger) (map[string]transport.Provider, error) {
	set := make(map[string]transport.Provider)

	openrouterKey, ok := cfg.GetAPIKey("openrouter")
	if !ok {
		return nil, &forgeerr.ConfigError{Section: "transport", Message: "no chat provider API key configured (OPENROUTER_API_KEY or providers.openrouter.api_key)"}
	}
	openrouterCfg := cfg.Providers["openrouter"]
	openrouterProvider, err := providers.NewOpenAICompatProvider("openrouter", providers.OpenAICompatConfig{
		APIKey:       openrouterKey,
		BaseURL:      openrouterCfg.BaseURL,
		DefaultModel: cfg.Agent.Model,
	})
	if err != nil {
		return nil, err
	}
	set["openrouter"] = openrouterProvider

	if anthropicKey, ok := cfg.GetAPIKey("anthropic"); ok {
		anthropicCfg := cfg.Providers["anthropic"]
		anthropicProvider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       anthropicKey,
			DefaultModel: anthropicCfg.Model,
		})
		if err != nil {
			logger.Warn(ctx, "skipping anthropic provider", "error", err)
		} else {
			set["anthropic"] = anthropicProvider
		}
	}

	if bedrockCfg, configured := cfg.Providers["bedrock"]; configured {
		bedrockProvider, err := providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:          bedrockCfg.Region,
			AccessKeyID:     bedrockCfg.AccessKeyID,
			SecretAccessKey: bedrockCfg.SecretAccessKey,
			SessionToken:    bedrockCfg.SessionToken,
			DefaultModel:    bedrockCfg.Model,
		})
		if err != nil {
			logger.Warn(ctx, "skipping bedrock provider", "error", err)
		} else {
			set["bedrock"] = bedrockProvider
		}
	}

	return set, nil
}

// selectProvider resolves name against set, falling back to
// "openrouter" (always present) when name is unset or unknown.
func selectProvider(set map[string]transport.Provider, name string) transport.Provider {
	if name != "" {
		if p, ok := set[name]; ok {
			return p
		}
	}
	return set["openrouter"]
}
