// Package distill runs the teacher/student generation loop: a strong model
// writes a few seed examples, a cheap model learns their shape and produces
// the bulk, and the strong model spot-checks the result.
package distill

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/resilience"
)

const (
	// DefaultMaxSeeds caps the number of teacher seed calls per request.
	DefaultMaxSeeds = 50

	seedTemperature = 0.8
	seedMaxTokens   = 1000
)

// SeedCount returns how many seed examples a request of the given quantity
// gets: one per ten requested items, capped at max. A max of zero or less
// uses DefaultMaxSeeds.
func SeedCount(quantity, max int) int {
	if max <= 0 {
		max = DefaultMaxSeeds
	}
	n := quantity / 10
	if n > max {
		n = max
	}
	if n < 0 {
		n = 0
	}
	return n
}

// SeedStats summarises the calls behind one GenerateSeedData run.
type SeedStats struct {
	Calls  int
	Failed int
	Cost   float64
	Tokens int
}

// Teacher wraps the high-capacity provider used for seeds and validation.
type Teacher struct {
	provider      provider.Provider
	maxSeeds      int
	retryAttempts int

	mu       sync.Mutex
	examples []model.TeacherExample
}

// NewTeacher creates a Teacher. retryAttempts above 1 retries transient seed
// failures with backoff.
func NewTeacher(p provider.Provider, maxSeeds, retryAttempts int) *Teacher {
	return &Teacher{
		provider:      p,
		maxSeeds:      maxSeeds,
		retryAttempts: retryAttempts,
	}
}

// Provider returns the wrapped provider.
func (t *Teacher) Provider() provider.Provider { return t.provider }

// Examples returns a copy of the examples produced by the last run.
func (t *Teacher) Examples() []model.TeacherExample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.TeacherExample, len(t.examples))
	copy(out, t.examples)
	return out
}

// GenerateSeedData issues SeedCount sequential teacher calls for req. Failed
// calls are logged and skipped, so the result may be shorter than the seed
// count. The per-request example cache is reset first.
func (t *Teacher) GenerateSeedData(ctx context.Context, req model.GenerationRequest) ([]model.TeacherExample, SeedStats) {
	t.mu.Lock()
	t.examples = nil
	t.mu.Unlock()

	n := SeedCount(req.Quantity, t.maxSeeds)
	stats := SeedStats{Calls: n}
	log := zap.L().With(
		zap.String("teacher", t.provider.Name()),
		zap.String("data_type", string(req.DataType)),
	)
	log.Info("distill: generating seed data", zap.Int("seeds", n))

	var examples []model.TeacherExample
	for i := 0; i < n; i++ {
		prompt := SeedPrompt(req, i)
		res, err := t.call(ctx, prompt)
		if err != nil {
			stats.Failed++
			log.Warn("distill: seed generation failed", zap.Int("iteration", i), zap.Error(err))
			continue
		}

		cost := provider.CallCost(t.provider, res)
		stats.Cost += cost
		stats.Tokens += res.TokensUsed

		examples = append(examples, model.TeacherExample{
			Input:      prompt,
			Output:     res.Content,
			Confidence: clampUnit(res.Confidence),
			TokensUsed: res.TokensUsed,
			Cost:       cost,
			Model:      res.ModelID,
			Timestamp:  time.Now().UTC(),
			Context: model.ExampleContext{
				Keywords:  append([]string(nil), req.Keywords...),
				Iteration: i,
			},
		})
	}

	t.mu.Lock()
	t.examples = append([]model.TeacherExample(nil), examples...)
	t.mu.Unlock()

	log.Info("distill: seed data complete",
		zap.Int("examples", len(examples)),
		zap.Int("failed", stats.Failed),
		zap.Float64("cost_usd", stats.Cost),
	)
	return examples, stats
}

func (t *Teacher) call(ctx context.Context, prompt string) (*provider.Result, error) {
	opts := provider.Options{Temperature: seedTemperature, MaxTokens: seedMaxTokens}
	if t.retryAttempts <= 1 {
		return t.provider.Generate(ctx, prompt, opts)
	}
	cfg := resilience.SeedRetryConfig(t.retryAttempts)
	cfg.OnRetry = resilience.RetryLogger(t.provider.Name(), string(provider.RoleTeacher))
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*provider.Result, error) {
		return t.provider.Generate(ctx, prompt, opts)
	})
}

// SeedPrompt builds the teacher prompt for one seed iteration. Prompts differ
// only by iteration number for a fixed request.
func SeedPrompt(req model.GenerationRequest, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate high-quality %s data based on keywords: %s\n\n",
		req.DataType, strings.Join(req.Keywords, ", "))
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", req.Context)
	}
	b.WriteString("Requirements:\n")
	b.WriteString("- High diversity and creativity\n")
	b.WriteString("- Professional quality\n")
	fmt.Fprintf(&b, "- Variation #%d\n", iteration+1)
	b.WriteString("- Clear structure and formatting\n\n")
	b.WriteString("Generate:")
	return b.String()
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
