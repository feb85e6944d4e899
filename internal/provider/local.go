package provider

import (
	"context"
	"errors"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/ollama"
)

// Local adapts a self-hosted Ollama server. Calls are free.
type Local struct {
	base
	client ollama.Client
}

// NewLocal creates a local-model adapter over client.
func NewLocal(cfg config.ProviderConfig, client ollama.Client) *Local {
	return &Local{
		base: newBase(config.ProviderLocal, cfg, func(err error) (int, string) {
			var apiErr *ollama.APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode, apiErr.Body
			}
			return 0, ""
		}),
		client: client,
	}
}

// Generate runs a non-streaming completion.
func (l *Local) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return l.do(ctx, func(ctx context.Context) (*Result, error) {
		resp, err := l.client.Generate(ctx, ollama.GenerateRequest{
			Model:  l.model,
			Prompt: prompt,
			Options: ollama.GenerateOptions{
				Temperature: opts.Temperature,
				NumPredict:  l.tokens(opts),
			},
		})
		if err != nil {
			return nil, err
		}
		return &Result{
			Content:      resp.Response,
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			Confidence:   confidenceFor(config.ProviderLocal, resp.DoneReason),
			ModelID:      resp.Model,
			FinishReason: resp.DoneReason,
		}, nil
	})
}

// CostPerToken is always zero for local models.
func (l *Local) CostPerToken() (float64, float64) { return 0, 0 }

// Describe reports model metadata.
func (l *Local) Describe() model.ModelInfo { return l.describe() }
