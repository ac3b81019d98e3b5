package config

import "fmt"

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Model represents a model provider configuration. ModelName is the
// provider's API model identifier; the block label is how agents refer to it.
type Model struct {
	Name      string   `hcl:"name,label"`
	Provider  Provider `hcl:"provider"`
	ModelName string   `hcl:"model_name"`
	APIKey    string   `hcl:"api_key,optional"`
}

func (m *Model) Validate() error {
	switch m.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider '%s' (expected anthropic, openai or gemini)", m.Provider)
	}
	if m.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	return nil
}
