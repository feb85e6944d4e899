package provider

import (
	"sort"
	"strings"

	"github.com/sells-group/distill-cli/internal/model"
)

// Per-1K-token rates by model family. Lookup picks the longest key that
// prefixes the configured model, so dated snapshots inherit family pricing.
var (
	openAIPricing = map[string]model.Pricing{
		"gpt-4o":        {Input: 0.005, Output: 0.015},
		"gpt-4":         {Input: 0.03, Output: 0.06},
		"gpt-3.5-turbo": {Input: 0.001, Output: 0.002},
	}
	openAIDefault = model.Pricing{Input: 0.01, Output: 0.02}

	anthropicPricing = map[string]model.Pricing{
		"claude-3.5-sonnet": {Input: 0.003, Output: 0.015},
		"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
		"claude-3-opus":     {Input: 0.015, Output: 0.075},
		"claude-3-haiku":    {Input: 0.00025, Output: 0.00125},
	}
	anthropicDefault = model.Pricing{Input: 0.01, Output: 0.03}

	googlePricing = map[string]model.Pricing{
		"gemini-pro":   {Input: 0.0005, Output: 0.0015},
		"gemini-ultra": {Input: 0.01, Output: 0.03},
	}
	googleDefault = model.Pricing{Input: 0.001, Output: 0.003}
)

func lookupPricing(table map[string]model.Pricing, fallback model.Pricing, modelName string) model.Pricing {
	if p, ok := table[modelName]; ok {
		return p
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(modelName, k) {
			return table[k]
		}
	}
	return fallback
}

// PricingFor returns the per-1K rates for a provider type and model.
func PricingFor(providerType, modelName string) model.Pricing {
	switch providerType {
	case "openai":
		return lookupPricing(openAIPricing, openAIDefault, modelName)
	case "anthropic":
		return lookupPricing(anthropicPricing, anthropicDefault, modelName)
	case "google":
		return lookupPricing(googlePricing, googleDefault, modelName)
	default:
		return model.Pricing{}
	}
}

// SuitabilityFor scores a model for the teacher and student roles.
func SuitabilityFor(providerType, modelName string) model.RoleSuitability {
	switch providerType {
	case "openai":
		switch {
		case strings.Contains(modelName, "gpt-4"):
			return model.RoleSuitability{Teacher: 0.95, Student: 0.6}
		case strings.Contains(modelName, "gpt-3.5"):
			return model.RoleSuitability{Teacher: 0.7, Student: 0.9}
		}
	case "anthropic":
		switch {
		case strings.Contains(modelName, "opus"):
			return model.RoleSuitability{Teacher: 1.0, Student: 0.5}
		case strings.Contains(modelName, "sonnet"):
			return model.RoleSuitability{Teacher: 0.9, Student: 0.7}
		case strings.Contains(modelName, "haiku"):
			return model.RoleSuitability{Teacher: 0.6, Student: 0.95}
		}
	case "google":
		if strings.Contains(modelName, "ultra") {
			return model.RoleSuitability{Teacher: 0.9, Student: 0.6}
		}
		return model.RoleSuitability{Teacher: 0.75, Student: 0.85}
	case "local":
		return model.RoleSuitability{Teacher: 0.6, Student: 0.9}
	}
	return model.RoleSuitability{Teacher: 0.8, Student: 0.8}
}

// confidenceFor maps a vendor completion status to a confidence score.
func confidenceFor(providerType, finish string) float64 {
	switch providerType {
	case "google":
		switch finish {
		case "STOP":
			return 0.85
		case "MAX_TOKENS":
			return 0.7
		}
		return 0.6
	case "local":
		if finish == "length" {
			return 0.6
		}
		return 0.7
	default:
		switch finish {
		case "stop", "end_turn", "stop_sequence":
			return 0.9
		case "length", "max_tokens":
			return 0.7
		}
		return 0.5
	}
}
