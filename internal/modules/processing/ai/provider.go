package ai

import (
	"fmt"
	"net/http"
	"strings"

	appcfg "github.com/mx-space/distill/internal/config"
)

type providerOptions struct {
	httpClient *http.Client
}

// ProviderOption customises provider construction.
type ProviderOption func(*providerOptions)

// WithHTTPClient routes raw-HTTP providers through client.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(o *providerOptions) { o.httpClient = client }
}

// NewProvider builds the backend for a configured provider entry.
func NewProvider(provider *appcfg.AIProvider, opts ...ProviderOption) (Provider, error) {
	if provider == nil {
		return nil, fmt.Errorf("no AI provider configured")
	}
	if strings.TrimSpace(provider.APIKey) == "" {
		return nil, fmt.Errorf("AI provider %q has no api key", provider.ID)
	}

	options := providerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	switch appcfg.NormalizeProviderType(provider.Type) {
	case appcfg.ProviderAnthropic:
		return newAnthropicProvider(provider), nil
	case appcfg.ProviderOpenAI:
		return newOpenAIProvider(provider), nil
	case appcfg.ProviderOpenAICompatible, appcfg.ProviderOpenRouter:
		return newCompatibleProvider(provider, options.httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", provider.Type)
	}
}
