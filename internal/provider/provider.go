// Package provider adapts vendor LLM APIs to a single generation contract.
package provider

import (
	"context"

	"github.com/sells-group/distill-cli/internal/model"
)

// Role is the part a provider plays in a distillation pair.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Options are the sampling parameters of a single call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Result is the normalized outcome of a successful call.
type Result struct {
	Content      string
	TokensUsed   int
	InputTokens  int
	OutputTokens int
	Confidence   float64
	ModelID      string
	FinishReason string
}

// Provider is the uniform generation contract every vendor adapter honors.
// Implementations must be safe for concurrent use, must respect their
// per-minute limit, and must never retry on their own.
type Provider interface {
	// Name is the configured identifier, unique within a role.
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)
	// CostPerToken returns USD per 1K input and output tokens.
	CostPerToken() (input, output float64)
	Describe() model.ModelInfo
}

// CallCost prices a finished call with the provider's own rates.
func CallCost(p Provider, r *Result) float64 {
	if r == nil {
		return 0
	}
	in, out := p.CostPerToken()
	inTok, outTok := r.InputTokens, r.OutputTokens
	if inTok == 0 && outTok == 0 {
		outTok = r.TokensUsed
	}
	return float64(inTok)/1000*in + float64(outTok)/1000*out
}

// EstimateCost prices a hypothetical call.
func EstimateCost(p Provider, inputTokens, outputTokens int) float64 {
	in, out := p.CostPerToken()
	return float64(inputTokens)/1000*in + float64(outputTokens)/1000*out
}
