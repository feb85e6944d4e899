package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/transfer"
)

// DefaultBatchSize is the number of concurrent student calls per batch.
const DefaultBatchSize = 20

const (
	studentTemperature = 0.7
	studentMaxTokens   = 500
)

// Learned-pattern categories written by LearnFromTeacher.
const (
	CategoryStructures   = "common_structures"
	CategoryStyles       = "response_styles"
	CategoryIndicators   = "quality_indicators"
	CategoryKeywords     = "keyword_mappings"
	CategoryKnowledge    = "knowledge_patterns"
	CategoryInstructions = "transfer_instructions"
)

// LearningResult summarises one LearnFromTeacher call.
type LearningResult struct {
	PatternsLearned   int     `json:"patterns_learned"`
	ExamplesProcessed int     `json:"examples_processed"`
	Confidence        float64 `json:"confidence"`
}

// Generated is one student output that survived generation.
type Generated struct {
	Content   string  `json:"content"`
	Quality   float64 `json:"quality"`
	Model     string  `json:"model"`
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
	Iteration int     `json:"iteration"`
}

// BulkStats summarises the calls behind one GenerateBulkData run.
type BulkStats struct {
	Calls   int
	Failed  int
	Batches int
	Cost    float64
	Tokens  int
}

// Student wraps the cheap provider that produces the bulk of a dataset.
type Student struct {
	provider  provider.Provider
	batchSize int
	scorer    LearningScorer
	estimator QualityEstimator

	mu      sync.RWMutex
	learned map[string]any
}

// NewStudent creates a Student. Nil scorer or estimator select the defaults.
func NewStudent(p provider.Provider, batchSize int, scorer LearningScorer, estimator QualityEstimator) *Student {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if scorer == nil {
		scorer = FixedScorer{Value: DefaultLearningConfidence}
	}
	if estimator == nil {
		estimator = ConfidenceEstimator{}
	}
	return &Student{
		provider:  p,
		batchSize: batchSize,
		scorer:    scorer,
		estimator: estimator,
		learned:   make(map[string]any),
	}
}

// Provider returns the wrapped provider.
func (s *Student) Provider() provider.Provider { return s.provider }

// LearnFromTeacher derives the four learned categories from examples and
// merges them into the learned-pattern map, replacing earlier values.
func (s *Student) LearnFromTeacher(examples []model.TeacherExample) LearningResult {
	derived := map[string]any{
		CategoryStructures: structures(examples),
		CategoryStyles:     styles(examples),
		CategoryIndicators: indicators(examples),
		CategoryKeywords:   keywordMappings(examples),
	}

	s.mu.Lock()
	for k, v := range derived {
		s.learned[k] = v
	}
	snapshot := s.copyLocked()
	s.mu.Unlock()

	res := LearningResult{
		PatternsLearned:   len(derived),
		ExamplesProcessed: len(examples),
		Confidence:        clampUnit(s.scorer.Score(examples, snapshot)),
	}
	zap.L().Info("distill: student learned from teacher",
		zap.String("student", s.provider.Name()),
		zap.Int("examples", res.ExamplesProcessed),
		zap.Float64("confidence", res.Confidence),
	)
	return res
}

// ApplyPatterns merges knowledge patterns into the learned map so they guide
// the next generation. A pattern ID already present is replaced.
func (s *Student) ApplyPatterns(patterns []model.KnowledgePattern) {
	if len(patterns) == 0 {
		return
	}
	guide := make(map[string]any, len(patterns))
	for _, p := range patterns {
		guide[p.PatternID] = map[string]any{
			"type":       string(p.PatternType),
			"template":   p.Template,
			"confidence": p.Confidence,
		}
	}
	s.mu.Lock()
	if prev, ok := s.learned[CategoryKnowledge].(map[string]any); ok {
		for id, v := range prev {
			if _, dup := guide[id]; !dup {
				guide[id] = v
			}
		}
	}
	s.learned[CategoryKnowledge] = guide
	s.mu.Unlock()
}

// ResetGuidance drops the knowledge patterns and transfer instructions left
// by an earlier request. The four learned categories are kept.
func (s *Student) ResetGuidance() {
	s.mu.Lock()
	delete(s.learned, CategoryKnowledge)
	delete(s.learned, CategoryInstructions)
	s.mu.Unlock()
}

// Guide stores transfer instructions for the student prompt.
func (s *Student) Guide(lines []string) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	s.learned[CategoryInstructions] = append([]string(nil), lines...)
	s.mu.Unlock()
}

// LearnedPatterns returns a copy of the learned-pattern map.
func (s *Student) LearnedPatterns() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Student) copyLocked() map[string]any {
	out := make(map[string]any, len(s.learned))
	for k, v := range s.learned {
		out[k] = v
	}
	return out
}

// GenerateBulkData issues req.Quantity student calls in sequential batches.
// Calls within a batch run concurrently; failed calls are dropped, so the
// result may be shorter than the quantity. Output order follows iteration.
func (s *Student) GenerateBulkData(ctx context.Context, req model.GenerationRequest) ([]Generated, BulkStats) {
	stats := BulkStats{Calls: req.Quantity}
	prompts := s.promptFactory(req)
	log := zap.L().With(
		zap.String("student", s.provider.Name()),
		zap.String("data_type", string(req.DataType)),
	)
	log.Info("distill: generating bulk data",
		zap.Int("quantity", req.Quantity),
		zap.Int("batch_size", s.batchSize),
	)

	var out []Generated
	for start := 0; start < req.Quantity; start += s.batchSize {
		end := min(start+s.batchSize, req.Quantity)
		if ctx.Err() != nil {
			stats.Failed += req.Quantity - start
			log.Warn("distill: bulk generation cancelled", zap.Int("remaining", req.Quantity-start))
			break
		}

		batch := make([]*Generated, end-start)
		g, gCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := s.provider.Generate(gCtx, prompts(i), provider.Options{
					Temperature: studentTemperature,
					MaxTokens:   studentMaxTokens,
				})
				if err != nil {
					log.Warn("distill: student generation failed", zap.Int("iteration", i), zap.Error(err))
					return nil
				}
				batch[i-start] = &Generated{
					Content:   res.Content,
					Quality:   s.estimator.Estimate(res),
					Model:     res.ModelID,
					Cost:      provider.CallCost(s.provider, res),
					Tokens:    res.TokensUsed,
					Iteration: i,
				}
				return nil
			})
		}
		_ = g.Wait()
		stats.Batches++

		for _, item := range batch {
			if item == nil {
				stats.Failed++
				continue
			}
			stats.Cost += item.Cost
			stats.Tokens += item.Tokens
			out = append(out, *item)
		}
	}

	log.Info("distill: bulk data complete",
		zap.Int("generated", len(out)),
		zap.Int("failed", stats.Failed),
		zap.Int("batches", stats.Batches),
		zap.Float64("cost_usd", stats.Cost),
	)
	return out, stats
}

// promptFactory serialises the learned map once so every prompt of a run
// sees the same guidance.
func (s *Student) promptFactory(req model.GenerationRequest) func(int) string {
	guidance := "Using basic patterns"
	if learned := s.LearnedPatterns(); len(learned) > 0 {
		if b, err := json.MarshalIndent(learned, "", "  "); err == nil {
			guidance = string(b)
		} else {
			zap.L().Warn("distill: serialise learned patterns", zap.Error(err))
		}
	}
	return func(i int) string {
		return StudentPrompt(req, guidance, i)
	}
}

// StudentPrompt builds the student prompt for one iteration.
func StudentPrompt(req model.GenerationRequest, guidance string, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on learned patterns, generate %s data for: %s\n\n",
		req.DataType, strings.Join(req.Keywords, ", "))
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", req.Context)
	}
	fmt.Fprintf(&b, "Pattern guidance: %s\n", guidance)
	fmt.Fprintf(&b, "Variation: #%d\n\n", iteration+1)
	b.WriteString("Generate:")
	return b.String()
}

func structures(examples []model.TeacherExample) map[string]int {
	out := make(map[string]int)
	for _, ex := range examples {
		out[transfer.StructureSignature(ex.Output)]++
	}
	return out
}

func styles(examples []model.TeacherExample) map[string]int {
	out := make(map[string]int)
	for _, ex := range examples {
		out[transfer.ClassifyStyle(transfer.StyleFeatures(ex.Output))]++
	}
	return out
}

func indicators(examples []model.TeacherExample) map[string]any {
	formats := make(map[string]int)
	var conf, length float64
	for _, ex := range examples {
		conf += ex.Confidence
		length += float64(len(strings.Fields(ex.Output)))
		if f := transfer.DetectFormat(ex.Output); f != "" {
			formats[f]++
		}
	}
	out := map[string]any{
		"average_confidence": 0.0,
		"average_words":      0.0,
		"formats":            formats,
	}
	if n := float64(len(examples)); n > 0 {
		out["average_confidence"] = conf / n
		out["average_words"] = length / n
	}
	return out
}

func keywordMappings(examples []model.TeacherExample) map[string]int {
	out := make(map[string]int)
	for _, ex := range examples {
		seen := make(map[string]bool, len(ex.Context.Keywords))
		for _, kw := range ex.Context.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out[kw]++
		}
	}
	return out
}
