package distill

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distill-cli/internal/provider"
)

const (
	// QualityThreshold is the mean validation score a batch must reach.
	QualityThreshold = 0.8
	// DefaultSampleRatio is the share of items sent for validation.
	DefaultSampleRatio = 0.1

	validationTemperature = 0.1
	validationMaxTokens   = 10
	validationConcurrency = 10
	excerptLength         = 100
)

var numericToken = regexp.MustCompile(`-?\d+(?:\.\d+)?|-?\.\d+`)

// Validation is the score of one sampled item.
type Validation struct {
	Index   int     `json:"index"`
	Score   float64 `json:"quality_score"`
	Excerpt string  `json:"validation_content,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ValidationResult summarises a ValidateBatch call.
type ValidationResult struct {
	AverageQuality float64      `json:"average_quality"`
	SampleSize     int          `json:"sample_size"`
	Validations    []Validation `json:"validations"`
	MeetsThreshold bool         `json:"meets_threshold"`
	Cost           float64      `json:"cost"`
	Tokens         int          `json:"tokens"`
	Failed         int          `json:"failed"`
}

// Validator spot-checks generated items with the teacher provider.
type Validator struct {
	provider provider.Provider
}

// NewValidator creates a Validator backed by p.
func NewValidator(p provider.Provider) *Validator {
	return &Validator{provider: p}
}

// SampleIndices returns the evenly spaced indices validated for n items at
// the given ratio. It returns nil when n is zero.
func SampleIndices(n int, ratio float64) []int {
	if n <= 0 {
		return nil
	}
	size := max(1, int(float64(n)*ratio))
	if size > n {
		size = n
	}
	step := n / size
	out := make([]int, 0, size)
	for i := 0; i < n && len(out) < size; i += step {
		out = append(out, i)
	}
	return out
}

// ValidateBatch scores a sample of items with the teacher. Call failures
// and unparseable replies score 0.5. With no items it reports 0.5 quality
// and a zero sample without calling the provider.
func (v *Validator) ValidateBatch(ctx context.Context, items []string, ratio float64) ValidationResult {
	if ratio <= 0 {
		ratio = DefaultSampleRatio
	}
	indices := SampleIndices(len(items), ratio)
	if len(indices) == 0 {
		return ValidationResult{AverageQuality: defaultItemQuality, MeetsThreshold: defaultItemQuality >= QualityThreshold}
	}

	validations := make([]Validation, len(indices))
	var (
		mu     sync.Mutex
		cost   float64
		tokens int
		failed int
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(validationConcurrency)
	for slot, idx := range indices {
		g.Go(func() error {
			content := items[idx]
			res, err := v.provider.Generate(gCtx, ValidationPrompt(content), provider.Options{
				Temperature: validationTemperature,
				MaxTokens:   validationMaxTokens,
			})
			if err != nil {
				zap.L().Warn("distill: quality validation failed", zap.Int("index", idx), zap.Error(err))
				validations[slot] = Validation{Index: idx, Score: defaultItemQuality, Error: err.Error()}
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			validations[slot] = Validation{
				Index:   idx,
				Score:   ParseScore(res.Content),
				Excerpt: excerpt(content),
			}
			mu.Lock()
			cost += provider.CallCost(v.provider, res)
			tokens += res.TokensUsed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var sum float64
	for _, val := range validations {
		sum += val.Score
	}
	avg := sum / float64(len(validations))
	zap.L().Info("distill: validation complete",
		zap.Int("sample_size", len(validations)),
		zap.Float64("average_quality", avg),
		zap.Int("failed", failed),
	)
	return ValidationResult{
		AverageQuality: avg,
		SampleSize:     len(validations),
		Validations:    validations,
		MeetsThreshold: avg >= QualityThreshold,
		Cost:           cost,
		Tokens:         tokens,
		Failed:         failed,
	}
}

// ParseScore reads the first number in reply, clamped to [0, 1]. Replies
// without a number score 0.5.
func ParseScore(reply string) float64 {
	tok := numericToken.FindString(reply)
	if tok == "" {
		return defaultItemQuality
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return defaultItemQuality
	}
	return clampUnit(f)
}

// ValidationPrompt asks the teacher for a single numeric score.
func ValidationPrompt(content string) string {
	return fmt.Sprintf(`Evaluate the quality of this generated content on a scale of 0.0 to 1.0:

Content: %s

Score based on:
- Relevance and accuracy
- Language quality
- Completeness
- Originality

Return only the numeric score:`, content)
}

func excerpt(content string) string {
	r := []rune(content)
	if len(r) <= excerptLength {
		return content
	}
	return string(r[:excerptLength]) + "..."
}
