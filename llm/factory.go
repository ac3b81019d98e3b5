package llm

import (
	"context"
	"fmt"
	"os"

	"sortie/config"
)

// NewProvider builds the provider for a model block. The returned bool
// reports whether the caller owns a Close (only Gemini holds a client
// connection). An empty api_key falls back to the provider's
// conventional environment variable.
func NewProvider(ctx context.Context, m *config.Model) (Provider, bool, error) {
	switch m.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(apiKey(m, "ANTHROPIC_API_KEY")), false, nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(apiKey(m, "OPENAI_API_KEY")), false, nil
	case config.ProviderGemini:
		provider, err := NewGeminiProvider(ctx, apiKey(m, "GEMINI_API_KEY"))
		if err != nil {
			return nil, false, err
		}
		return provider, true, nil
	default:
		return nil, false, fmt.Errorf("unknown provider: %s", m.Provider)
	}
}

func apiKey(m *config.Model, envVar string) string {
	if m.APIKey != "" {
		return m.APIKey
	}
	return os.Getenv(envVar)
}
