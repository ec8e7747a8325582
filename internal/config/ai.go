package config

import (
	"encoding/json"
	"strings"
)

// Provider type identifiers after normalisation.
const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderAnthropic        = "anthropic"
	ProviderOpenRouter       = "openrouter"
)

type AIConfig struct {
	Providers       []AIProvider       `json:"providers"`
	ExtractionModel *AIModelAssignment `json:"extraction_model,omitempty"`
	RepairModel     *AIModelAssignment `json:"repair_model,omitempty"`
	Pricing         []ModelPrice       `json:"-"`
}

type AIModelAssignment struct {
	ProviderID string `json:"provider_id" yaml:"provider_id"`
	Model      string `json:"model"       yaml:"model"`
}

func (a *AIModelAssignment) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProviderID      string `json:"provider_id"`
		ProviderIDCamel string `json:"providerId"`
		Model           string `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.ProviderID = strings.TrimSpace(raw.ProviderID)
	if a.ProviderID == "" {
		a.ProviderID = strings.TrimSpace(raw.ProviderIDCamel)
	}
	a.Model = strings.TrimSpace(raw.Model)
	return nil
}

type AIProvider struct {
	ID           string `json:"id"                 yaml:"id"`
	Name         string `json:"name"               yaml:"name"`
	Type         string `json:"type"               yaml:"type"` // OpenAI | OpenAI-Compatible | Anthropic | OpenRouter
	APIKey       string `json:"api_key"            yaml:"api_key"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint"`
	DefaultModel string `json:"default_model"      yaml:"default_model"`
	Enabled      bool   `json:"enabled"            yaml:"enabled"`
}

// ModelPrice is the USD cost per million tokens for models whose id starts
// with Match.
type ModelPrice struct {
	Match            string  `yaml:"match"`
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// NormalizeProviderType folds spelling variants ("OpenAI_Compatible",
// "open router") into the canonical identifiers.
func NormalizeProviderType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "_", "-")
	t = strings.ReplaceAll(t, " ", "")
	switch t {
	case "openaicompatible":
		return ProviderOpenAICompatible
	case "open-router":
		return ProviderOpenRouter
	}
	return t
}

func IsKnownProviderType(raw string) bool {
	switch NormalizeProviderType(raw) {
	case ProviderOpenAI, ProviderOpenAICompatible, ProviderAnthropic, ProviderOpenRouter:
		return true
	}
	return false
}

// SelectProvider picks the enabled provider named by assignment, falling back
// to the first enabled provider. The assignment's model overrides the
// provider default.
func (c AIConfig) SelectProvider(assignment *AIModelAssignment) *AIProvider {
	var providerID string
	var overrideModel string
	if assignment != nil {
		providerID = strings.TrimSpace(assignment.ProviderID)
		overrideModel = strings.TrimSpace(assignment.Model)
	}

	pick := func(provider AIProvider) *AIProvider {
		selected := provider
		if overrideModel != "" {
			selected.DefaultModel = overrideModel
		}
		return &selected
	}

	if providerID != "" {
		for _, provider := range c.Providers {
			if provider.Enabled && strings.TrimSpace(provider.ID) == providerID {
				return pick(provider)
			}
		}
	}
	for _, provider := range c.Providers {
		if provider.Enabled {
			return pick(provider)
		}
	}
	return nil
}
