package provider

import (
	"context"
	"errors"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/gemini"
)

// Google adapts the Gemini generateContent API.
type Google struct {
	base
	client gemini.Client
}

// NewGoogle creates a Gemini adapter over client.
func NewGoogle(cfg config.ProviderConfig, client gemini.Client) *Google {
	return &Google{
		base: newBase(config.ProviderGoogle, cfg, func(err error) (int, string) {
			var apiErr *gemini.APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode, apiErr.Body
			}
			return 0, ""
		}),
		client: client,
	}
}

// Generate sends prompt as a single user turn.
func (g *Google) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return g.do(ctx, func(ctx context.Context) (*Result, error) {
		temp, maxTok := opts.Temperature, g.tokens(opts)
		resp, err := g.client.GenerateContent(ctx, gemini.GenerateContentRequest{
			Model:    g.model,
			Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: prompt}}}},
			GenerationConfig: &gemini.GenerationConfig{
				Temperature:     &temp,
				MaxOutputTokens: &maxTok,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Candidates) == 0 {
			return nil, &ProviderError{Provider: g.kind, Model: g.model, Status: 200, Body: "no candidates returned"}
		}
		finish := resp.FinishReason()
		return &Result{
			Content:      resp.Text(),
			TokensUsed:   resp.UsageMetadata.TotalTokenCount,
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			Confidence:   confidenceFor(config.ProviderGoogle, finish),
			FinishReason: finish,
		}, nil
	})
}

// CostPerToken returns USD per 1K input and output tokens.
func (g *Google) CostPerToken() (float64, float64) { return g.costPerToken() }

// Describe reports model metadata.
func (g *Google) Describe() model.ModelInfo { return g.describe() }
