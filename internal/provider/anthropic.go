package provider

import (
	"context"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/anthropic"
)

// Anthropic adapts the Messages API.
type Anthropic struct {
	base
	client anthropic.Client
}

// NewAnthropic creates an Anthropic adapter over client.
func NewAnthropic(cfg config.ProviderConfig, client anthropic.Client) *Anthropic {
	return &Anthropic{
		base: newBase(config.ProviderAnthropic, cfg, func(err error) (int, string) {
			return anthropic.StatusCode(err), err.Error()
		}),
		client: client,
	}
}

// Generate sends prompt as a single user message.
func (a *Anthropic) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return a.do(ctx, func(ctx context.Context) (*Result, error) {
		temp := opts.Temperature
		resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       a.model,
			MaxTokens:   int64(a.tokens(opts)),
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &temp,
		})
		if err != nil {
			return nil, err
		}
		return &Result{
			Content:      resp.Text(),
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			Confidence:   confidenceFor(config.ProviderAnthropic, resp.StopReason),
			ModelID:      resp.Model,
			FinishReason: resp.StopReason,
		}, nil
	})
}

// CostPerToken returns USD per 1K input and output tokens.
func (a *Anthropic) CostPerToken() (float64, float64) { return a.costPerToken() }

// Describe reports model metadata.
func (a *Anthropic) Describe() model.ModelInfo { return a.describe() }
