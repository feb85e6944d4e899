package provider

import (
	"context"
	"errors"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/openai"
)

// OpenAI adapts the chat completions API.
type OpenAI struct {
	base
	client openai.Client
}

// NewOpenAI creates an OpenAI adapter over client.
func NewOpenAI(cfg config.ProviderConfig, client openai.Client) *OpenAI {
	return &OpenAI{
		base: newBase(config.ProviderOpenAI, cfg, func(err error) (int, string) {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode, apiErr.Body
			}
			return 0, ""
		}),
		client: client,
	}
}

// Generate sends prompt as a single user message.
func (o *OpenAI) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return o.do(ctx, func(ctx context.Context) (*Result, error) {
		temp, maxTok := opts.Temperature, o.tokens(opts)
		resp, err := o.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    []openai.Message{{Role: "user", Content: prompt}},
			Temperature: &temp,
			MaxTokens:   &maxTok,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, &ProviderError{Provider: o.kind, Model: o.model, Status: 200, Body: "no choices returned"}
		}
		choice := resp.Choices[0]
		return &Result{
			Content:      choice.Message.Content,
			TokensUsed:   resp.Usage.TotalTokens,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Confidence:   confidenceFor(config.ProviderOpenAI, choice.FinishReason),
			ModelID:      resp.Model,
			FinishReason: choice.FinishReason,
		}, nil
	})
}

// CostPerToken returns USD per 1K input and output tokens.
func (o *OpenAI) CostPerToken() (float64, float64) { return o.costPerToken() }

// Describe reports model metadata.
func (o *OpenAI) Describe() model.ModelInfo { return o.describe() }
