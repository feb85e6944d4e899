package transfer

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/model"
)

const (
	// instructionConfidence is the floor for a pattern to shape instructions.
	instructionConfidence = 0.7
	// highConfidence is the floor counted in Metrics.HighConfidence.
	highConfidence = 0.8
	// maxBenchmarks caps the evaluation benchmark set.
	maxBenchmarks = 10
	// maxTemplatesPerType caps the templates listed per pattern type.
	maxTemplatesPerType = 3
)

// Learning dataset item kinds.
const (
	ItemPattern = "pattern_example"
	ItemTeacher = "teacher_example"
)

var generalGuidelines = []string{
	"Follow the patterns learned from high-quality teacher examples",
	"Maintain consistency in style and structure",
	"Use appropriate formality level based on context",
	"Include relevant details while staying concise",
}

// LearningItem is one entry of the student learning dataset: either a
// pattern-derived instruction or a raw teacher example.
type LearningItem struct {
	Type        string            `json:"type"`
	PatternID   string            `json:"pattern_id,omitempty"`
	PatternType model.PatternType `json:"pattern_type,omitempty"`
	Instruction string            `json:"instruction,omitempty"`
	Examples    []string          `json:"examples,omitempty"`
	Input       string            `json:"input,omitempty"`
	Output      string            `json:"output,omitempty"`
	Keywords    []string          `json:"keywords"`
	Confidence  float64           `json:"confidence"`
}

// TypeInstruction summarizes the confident patterns of one type.
type TypeInstruction struct {
	Count     int      `json:"count"`
	Templates []string `json:"templates"`
	Keywords  []string `json:"keywords"`
}

// Instructions is the natural-language guidance handed to the student.
type Instructions struct {
	General         []string                              `json:"general_guidelines"`
	PatternSpecific map[model.PatternType]TypeInstruction `json:"pattern_specific"`
}

// Lines flattens the instructions into prompt-ready sentences.
func (in Instructions) Lines() []string {
	lines := append([]string(nil), in.General...)
	types := make([]string, 0, len(in.PatternSpecific))
	for t := range in.PatternSpecific {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		lines = append(lines, in.PatternSpecific[model.PatternType(t)].Templates...)
	}
	return lines
}

// Benchmark is a held-out teacher example the student is measured against.
type Benchmark struct {
	Input            string   `json:"input"`
	ExpectedOutput   string   `json:"expected_output"`
	QualityThreshold float64  `json:"quality_threshold"`
	Keywords         []string `json:"keywords"`
}

// Metrics summarizes one transfer.
type Metrics struct {
	PatternsExtracted int     `json:"patterns_extracted"`
	HighConfidence    int     `json:"high_confidence_patterns"`
	Coverage          float64 `json:"coverage"`
}

// Result is the output of a knowledge transfer.
type Result struct {
	Patterns        []model.KnowledgePattern `json:"patterns"`
	LearningDataset []LearningItem           `json:"learning_dataset"`
	Instructions    Instructions             `json:"transfer_instructions"`
	Benchmarks      []Benchmark              `json:"evaluation_benchmarks"`
	Metrics         Metrics                  `json:"metrics"`
	TransferTime    time.Duration            `json:"transfer_time"`
}

// HistoryEntry records a completed transfer.
type HistoryEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	Student           string    `json:"student"`
	TeacherExamples   int       `json:"teacher_examples"`
	PatternsExtracted int       `json:"patterns_extracted"`
	Coverage          float64   `json:"coverage"`
}

// Engine turns teacher examples into a transfer bundle for a student.
type Engine struct {
	extractor *Extractor
	tracker   *PerformanceTracker

	mu      sync.Mutex
	history []HistoryEntry
}

// NewEngine creates an Engine with its own extractor and tracker.
func NewEngine() *Engine {
	return &Engine{
		extractor: NewExtractor(),
		tracker:   NewPerformanceTracker(),
	}
}

// Extractor exposes the engine's pattern store.
func (e *Engine) Extractor() *Extractor { return e.extractor }

// Tracker exposes the engine's performance tracker.
func (e *Engine) Tracker() *PerformanceTracker { return e.tracker }

// TransferKnowledge extracts patterns and builds the learning dataset,
// instructions, benchmarks and metrics for student.
func (e *Engine) TransferKnowledge(examples []model.TeacherExample, student model.ModelInfo) *Result {
	start := time.Now()

	patterns := e.extractor.ExtractPatterns(examples)
	res := &Result{
		Patterns:        patterns,
		LearningDataset: learningDataset(patterns, examples),
		Instructions:    transferInstructions(patterns),
		Benchmarks:      benchmarks(examples),
		Metrics: Metrics{
			PatternsExtracted: len(patterns),
			HighConfidence:    countAbove(patterns, highConfidence),
			Coverage:          Coverage(patterns, examples),
		},
	}
	res.TransferTime = time.Since(start)

	e.mu.Lock()
	e.history = append(e.history, HistoryEntry{
		Timestamp:         time.Now(),
		Student:           student.Model,
		TeacherExamples:   len(examples),
		PatternsExtracted: len(patterns),
		Coverage:          res.Metrics.Coverage,
	})
	e.mu.Unlock()

	zap.L().Info("transfer: knowledge transferred",
		zap.String("student", student.Model),
		zap.Int("teacher_examples", len(examples)),
		zap.Int("patterns", len(patterns)),
		zap.Int("high_confidence", res.Metrics.HighConfidence),
		zap.Float64("coverage", res.Metrics.Coverage),
	)
	return res
}

// History returns a copy of past transfers.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history...)
}

func learningDataset(patterns []model.KnowledgePattern, examples []model.TeacherExample) []LearningItem {
	items := make([]LearningItem, 0, len(patterns)+len(examples))
	for _, p := range patterns {
		items = append(items, LearningItem{
			Type:        ItemPattern,
			PatternID:   p.PatternID,
			PatternType: p.PatternType,
			Instruction: "Follow this " + string(p.PatternType) + " pattern: " + p.Template,
			Examples:    p.Examples[:min(2, len(p.Examples))],
			Keywords:    p.Keywords,
			Confidence:  p.Confidence,
		})
	}
	for _, ex := range examples {
		items = append(items, LearningItem{
			Type:       ItemTeacher,
			Input:      ex.Input,
			Output:     ex.Output,
			Keywords:   ex.Context.Keywords,
			Confidence: ex.Confidence,
		})
	}
	return items
}

func transferInstructions(patterns []model.KnowledgePattern) Instructions {
	in := Instructions{
		General:         append([]string(nil), generalGuidelines...),
		PatternSpecific: make(map[model.PatternType]TypeInstruction),
	}

	byType := make(map[model.PatternType][]model.KnowledgePattern)
	for _, p := range patterns {
		if p.Confidence > instructionConfidence {
			byType[p.PatternType] = append(byType[p.PatternType], p)
		}
	}
	for t, ps := range byType {
		ti := TypeInstruction{Count: len(ps)}
		seen := make(map[string]bool)
		for i, p := range ps {
			if i < maxTemplatesPerType {
				ti.Templates = append(ti.Templates, p.Template)
			}
			for _, kw := range p.Keywords {
				if !seen[kw] {
					seen[kw] = true
					ti.Keywords = append(ti.Keywords, kw)
				}
			}
		}
		sort.Strings(ti.Keywords)
		in.PatternSpecific[t] = ti
	}
	return in
}

// benchmarks picks up to maxBenchmarks examples: one per distinct keyword
// combination first, then the most confident of the rest.
func benchmarks(examples []model.TeacherExample) []Benchmark {
	selected := selectDiverse(examples, maxBenchmarks)
	out := make([]Benchmark, len(selected))
	for i, ex := range selected {
		out[i] = Benchmark{
			Input:            ex.Input,
			ExpectedOutput:   ex.Output,
			QualityThreshold: ex.Confidence,
			Keywords:         ex.Context.Keywords,
		}
	}
	return out
}

func selectDiverse(examples []model.TeacherExample, count int) []model.TeacherExample {
	if len(examples) <= count {
		return examples
	}

	picked := make([]bool, len(examples))
	seen := make(map[string]bool)
	var out []model.TeacherExample
	for i, ex := range examples {
		key := strings.Join(sortedKeywords(ex.Context.Keywords), "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		picked[i] = true
		out = append(out, ex)
		if len(out) == count {
			return out
		}
	}

	rest := make([]model.TeacherExample, 0, len(examples)-len(out))
	for i, ex := range examples {
		if !picked[i] {
			rest = append(rest, ex)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Confidence > rest[j].Confidence })
	return append(out, rest[:count-len(out)]...)
}

// Coverage is the fraction of examples sharing at least one keyword with
// some pattern.
func Coverage(patterns []model.KnowledgePattern, examples []model.TeacherExample) float64 {
	if len(examples) == 0 {
		return 0
	}

	patternKeywords := make(map[string]bool)
	for _, p := range patterns {
		for _, kw := range p.Keywords {
			patternKeywords[kw] = true
		}
	}

	var covered int
	for _, ex := range examples {
		for _, kw := range ex.Context.Keywords {
			if patternKeywords[kw] {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(examples))
}

func countAbove(patterns []model.KnowledgePattern, floor float64) int {
	var n int
	for _, p := range patterns {
		if p.Confidence > floor {
			n++
		}
	}
	return n
}
