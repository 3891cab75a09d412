package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mirabot/mira/internal/mira/settings"
)

// SettingsSource is the minimal read interface the resolver needs from the
// settings store. *settings.Store satisfies it.
type SettingsSource interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// Resolve constructs the Provider selected by the current settings. It is
// called once per turn so that provider or credential changes take effect
// immediately.
//
// Selection falls back to DeepSeek when no provider is set. A missing
// credential for the selected provider yields a *ConfigError.
func Resolve(ctx context.Context, src SettingsSource, logger *slog.Logger) (Provider, error) {
	name, ok, err := src.Lookup(ctx, settings.KeyModelProvider)
	if err != nil {
		return nil, fmt.Errorf("llm: read provider setting: %w", err)
	}
	if !ok || name == "" {
		name = "deepseek"
	}

	switch name {
	case "deepseek":
		apiKey, ok, err := src.Lookup(ctx, settings.KeyDeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("llm: read deepseek api key: %w", err)
		}
		if !ok || apiKey == "" {
			return nil, &ConfigError{Reason: "deepseek api key is not configured"}
		}
		return NewDeepSeek(DeepSeekConfig{APIKey: apiKey}, logger), nil

	case "ollama":
		endpoint, _, err := src.Lookup(ctx, settings.KeyOllamaEndpoint)
		if err != nil {
			return nil, fmt.Errorf("llm: read ollama endpoint: %w", err)
		}
		model, _, err := src.Lookup(ctx, settings.KeyOllamaModel)
		if err != nil {
			return nil, fmt.Errorf("llm: read ollama model: %w", err)
		}
		return NewOllama(OllamaConfig{BaseURL: endpoint, Model: model}, logger), nil

	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported model provider %q", name)}
	}
}
