package ai

import (
	"sort"
	"strings"

	appcfg "github.com/mx-space/distill/internal/config"
)

var defaultPrices = []appcfg.ModelPrice{
	{Match: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.6},
	{Match: "gpt-4o", InputPerMillion: 2.5, OutputPerMillion: 10},
	{Match: "gpt-4.1-mini", InputPerMillion: 0.4, OutputPerMillion: 1.6},
	{Match: "gpt-4.1", InputPerMillion: 2, OutputPerMillion: 8},
	{Match: "claude-haiku-4-5", InputPerMillion: 1, OutputPerMillion: 5},
	{Match: "claude-sonnet-4", InputPerMillion: 3, OutputPerMillion: 15},
	{Match: "claude-opus-4", InputPerMillion: 15, OutputPerMillion: 75},
}

// Pricing estimates USD cost from token counts by longest model-prefix match.
type Pricing struct {
	prices []appcfg.ModelPrice
}

// NewPricing merges overrides over the built-in table. An override with the
// same Match replaces the default entry.
func NewPricing(overrides []appcfg.ModelPrice) *Pricing {
	byMatch := make(map[string]appcfg.ModelPrice, len(defaultPrices)+len(overrides))
	for _, p := range defaultPrices {
		byMatch[p.Match] = p
	}
	for _, p := range overrides {
		match := strings.ToLower(strings.TrimSpace(p.Match))
		if match == "" {
			continue
		}
		p.Match = match
		byMatch[match] = p
	}

	prices := make([]appcfg.ModelPrice, 0, len(byMatch))
	for _, p := range byMatch {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		return len(prices[i].Match) > len(prices[j].Match)
	})
	return &Pricing{prices: prices}
}

// Estimate returns the cost in USD, or 0 for unknown models.
func (p *Pricing) Estimate(model string, inputTokens, outputTokens int64) float64 {
	id := strings.ToLower(strings.TrimSpace(model))
	// OpenRouter style ids carry a vendor prefix.
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	for _, price := range p.prices {
		if strings.HasPrefix(id, price.Match) {
			return (float64(inputTokens)*price.InputPerMillion + float64(outputTokens)*price.OutputPerMillion) / 1_000_000
		}
	}
	return 0
}
