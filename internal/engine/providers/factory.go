package providers

import (
	"fmt"

	"github.com/studyforge/studyforge/internal/shared/config"
)

// FromConfig selects and constructs the configured provider
func FromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "static":
		return NewStaticProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
