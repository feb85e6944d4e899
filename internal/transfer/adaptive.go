package transfer

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/distill-cli/internal/model"
)

// Confidence bounds after adaptation.
const (
	minAdaptedConfidence = 0.1
	maxAdaptedConfidence = 1.0
)

// Feedback is observed performance of output produced under a pattern.
type Feedback struct {
	PatternID   string  `json:"pattern_id"`
	Performance float64 `json:"performance"`
}

// Adaptation records one AdaptPatterns call.
type Adaptation struct {
	Timestamp       time.Time `json:"timestamp"`
	PatternsAdapted int       `json:"patterns_adapted"`
	FeedbackItems   int       `json:"feedback_items"`
}

// AdaptiveManager moves pattern confidence toward observed performance.
type AdaptiveManager struct {
	mu      sync.Mutex
	history []Adaptation
}

// NewAdaptiveManager creates an AdaptiveManager.
func NewAdaptiveManager() *AdaptiveManager {
	return &AdaptiveManager{}
}

// AdaptPatterns returns patterns with confidence averaged against the mean
// feedback for each, clamped to [0.1, 1], sorted by confidence descending.
// Patterns without feedback keep their confidence. The input is not modified.
func (a *AdaptiveManager) AdaptPatterns(patterns []model.KnowledgePattern, feedback []Feedback) []model.KnowledgePattern {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, f := range feedback {
		sums[f.PatternID] += f.Performance
		counts[f.PatternID]++
	}

	out := make([]model.KnowledgePattern, len(patterns))
	for i, p := range patterns {
		if n := counts[p.PatternID]; n > 0 {
			avg := sums[p.PatternID] / float64(n)
			p.Confidence = clamp((p.Confidence+avg)/2, minAdaptedConfidence, maxAdaptedConfidence)
		}
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })

	a.mu.Lock()
	a.history = append(a.history, Adaptation{
		Timestamp:       time.Now(),
		PatternsAdapted: len(out),
		FeedbackItems:   len(feedback),
	})
	a.mu.Unlock()
	return out
}

// History returns a copy of past adaptations.
func (a *AdaptiveManager) History() []Adaptation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Adaptation(nil), a.history...)
}

// SuggestImprovements lists changes that would likely strengthen a transfer.
func SuggestImprovements(r *Result) []string {
	if r == nil {
		return nil
	}

	var out []string
	if float64(countAbove(r.Patterns, highConfidence))/float64(max(1, len(r.Patterns))) < 0.5 {
		out = append(out, "Consider using more diverse teacher examples to improve pattern quality")
	}
	if r.Metrics.Coverage < 0.7 {
		out = append(out, "Increase teacher example diversity to improve knowledge coverage")
	}
	types := make(map[model.PatternType]bool)
	for _, p := range r.Patterns {
		types[p.PatternType] = true
	}
	if len(types) < 3 {
		out = append(out, "Consider including more varied content types in teacher examples")
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
