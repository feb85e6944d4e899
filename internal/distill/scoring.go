package distill

import (
	"strings"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/transfer"
)

// DefaultLearningConfidence is the score FixedScorer reports when unset.
const DefaultLearningConfidence = 0.75

// defaultItemQuality is used when a provider reports no confidence.
const defaultItemQuality = 0.5

// LearningScorer rates how well a student absorbed a set of teacher examples.
type LearningScorer interface {
	Score(examples []model.TeacherExample, learned map[string]any) float64
}

// FixedScorer always reports Value, or DefaultLearningConfidence when zero.
type FixedScorer struct {
	Value float64
}

// Score implements LearningScorer.
func (s FixedScorer) Score([]model.TeacherExample, map[string]any) float64 {
	if s.Value <= 0 {
		return DefaultLearningConfidence
	}
	return clampUnit(s.Value)
}

// CoverageScorer rates learning by the share of examples whose structure
// recurs elsewhere in the set, weighted by mean teacher confidence.
type CoverageScorer struct{}

// Score implements LearningScorer.
func (CoverageScorer) Score(examples []model.TeacherExample, _ map[string]any) float64 {
	if len(examples) == 0 {
		return 0
	}
	counts := make(map[string]int, len(examples))
	for _, ex := range examples {
		counts[transfer.StructureSignature(ex.Output)]++
	}
	var shared int
	var conf float64
	for _, ex := range examples {
		if counts[transfer.StructureSignature(ex.Output)] >= 2 {
			shared++
		}
		conf += ex.Confidence
	}
	n := float64(len(examples))
	return clampUnit(float64(shared) / n * (conf / n))
}

// ScorerByName resolves a configured scorer name. Unknown names fall back to
// the fixed scorer.
func ScorerByName(name string) LearningScorer {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "coverage":
		return CoverageScorer{}
	default:
		return FixedScorer{Value: DefaultLearningConfidence}
	}
}

// QualityEstimator assigns a quality score to one student generation.
type QualityEstimator interface {
	Estimate(res *provider.Result) float64
}

// ConfidenceEstimator uses the provider's confidence, or 0.5 when absent.
type ConfidenceEstimator struct{}

// Estimate implements QualityEstimator.
func (ConfidenceEstimator) Estimate(res *provider.Result) float64 {
	if res == nil || res.Confidence <= 0 {
		return defaultItemQuality
	}
	return clampUnit(res.Confidence)
}
