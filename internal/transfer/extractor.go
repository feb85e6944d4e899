package transfer

import (
	"crypto/md5" //nolint:gosec // ids only, not security
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/model"
)

// Minimum supporting examples per pattern type.
const (
	minStructureGroup = 2
	minStyleGroup     = 3
	minContentGroup   = 2
	minFormatGroup    = 2
)

// Confidence saturation points: a group of this size reaches 1.0.
const (
	structureSaturation = 10
	styleSaturation     = 15
	contentSaturation   = 8
	formatConfidence    = 0.9
)

// Extractor runs the four extraction passes and remembers every pattern it
// has produced, keyed by pattern id.
type Extractor struct {
	mu       sync.Mutex
	patterns map[string]model.KnowledgePattern

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewExtractor creates an empty Extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		patterns: make(map[string]model.KnowledgePattern),
		nowFunc:  time.Now,
	}
}

// group is an ordered bucket of examples sharing a key.
type group struct {
	key      string
	examples []model.TeacherExample
}

// grouper buckets examples by key, preserving first-seen key order.
type grouper struct {
	index  map[string]int
	groups []*group
}

func newGrouper() *grouper {
	return &grouper{index: make(map[string]int)}
}

func (g *grouper) add(key string, ex model.TeacherExample) {
	i, ok := g.index[key]
	if !ok {
		i = len(g.groups)
		g.index[key] = i
		g.groups = append(g.groups, &group{key: key})
	}
	g.groups[i].examples = append(g.groups[i].examples, ex)
}

// ExtractPatterns derives structure, style, content and format patterns
// from examples, in that order.
func (e *Extractor) ExtractPatterns(examples []model.TeacherExample) []model.KnowledgePattern {
	now := e.nowFunc()

	var patterns []model.KnowledgePattern
	patterns = append(patterns, e.structural(examples, now)...)
	patterns = append(patterns, e.style(examples, now)...)
	patterns = append(patterns, e.content(examples, now)...)
	patterns = append(patterns, e.format(examples, now)...)

	e.mu.Lock()
	for _, p := range patterns {
		e.patterns[p.PatternID] = p
	}
	e.mu.Unlock()

	zap.L().Debug("transfer: extracted patterns",
		zap.Int("examples", len(examples)),
		zap.Int("patterns", len(patterns)),
	)
	return patterns
}

// Patterns returns every pattern seen so far, sorted by id.
func (e *Extractor) Patterns() []model.KnowledgePattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.KnowledgePattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out
}

// Pattern looks up a remembered pattern by id.
func (e *Extractor) Pattern(id string) (model.KnowledgePattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[id]
	return p, ok
}

func (e *Extractor) structural(examples []model.TeacherExample, now time.Time) []model.KnowledgePattern {
	g := newGrouper()
	for _, ex := range examples {
		g.add(StructureSignature(ex.Output), ex)
	}

	var out []model.KnowledgePattern
	for _, grp := range g.groups {
		if len(grp.examples) < minStructureGroup {
			continue
		}
		out = append(out, model.KnowledgePattern{
			PatternID:   "struct_" + shortHash(grp.key),
			PatternType: model.PatternStructure,
			Keywords:    CommonKeywords(grp.examples),
			Template:    structureTemplate(grp.key, len(grp.examples)),
			Examples:    outputs(grp.examples, model.MaxPatternExamples),
			Confidence:  min(1.0, float64(len(grp.examples))/structureSaturation),
			Frequency:   len(grp.examples),
			LastUpdated: now,
		})
	}
	return out
}

func (e *Extractor) style(examples []model.TeacherExample, now time.Time) []model.KnowledgePattern {
	g := newGrouper()
	features := make(map[string][]Style)
	for _, ex := range examples {
		s := StyleFeatures(ex.Output)
		class := ClassifyStyle(s)
		g.add(class, ex)
		features[class] = append(features[class], s)
	}

	var out []model.KnowledgePattern
	for _, grp := range g.groups {
		if len(grp.examples) < minStyleGroup {
			continue
		}
		out = append(out, model.KnowledgePattern{
			PatternID:   "style_" + grp.key,
			PatternType: model.PatternStyle,
			Keywords:    CommonKeywords(grp.examples),
			Template:    styleTemplate(grp.key, features[grp.key]),
			Examples:    outputs(grp.examples, model.MaxPatternExamples),
			Confidence:  min(1.0, float64(len(grp.examples))/styleSaturation),
			Frequency:   len(grp.examples),
			LastUpdated: now,
		})
	}
	return out
}

func (e *Extractor) content(examples []model.TeacherExample, now time.Time) []model.KnowledgePattern {
	g := newGrouper()
	topics := make(map[string][]string)
	for _, ex := range examples {
		if len(ex.Context.Keywords) == 0 {
			continue
		}
		kws := sortedKeywords(ex.Context.Keywords)
		key := strings.Join(kws, "_")
		topics[key] = kws
		g.add(key, ex)
	}

	var out []model.KnowledgePattern
	for _, grp := range g.groups {
		if len(grp.examples) < minContentGroup {
			continue
		}
		out = append(out, model.KnowledgePattern{
			PatternID:   "content_" + shortHash(grp.key),
			PatternType: model.PatternContent,
			Keywords:    topics[grp.key],
			Template:    fmt.Sprintf("Cover the topic %s as the %d reference examples do", strings.Join(topics[grp.key], ", "), len(grp.examples)),
			Examples:    outputs(grp.examples, model.MaxPatternExamples),
			Confidence:  min(1.0, float64(len(grp.examples))/contentSaturation),
			Frequency:   len(grp.examples),
			LastUpdated: now,
		})
	}
	return out
}

func (e *Extractor) format(examples []model.TeacherExample, now time.Time) []model.KnowledgePattern {
	g := newGrouper()
	for _, ex := range examples {
		if f := DetectFormat(ex.Output); f != "" {
			g.add(f, ex)
		}
	}

	var out []model.KnowledgePattern
	for _, grp := range g.groups {
		if len(grp.examples) < minFormatGroup {
			continue
		}
		out = append(out, model.KnowledgePattern{
			PatternID:   "format_" + grp.key,
			PatternType: model.PatternFormat,
			Keywords:    CommonKeywords(grp.examples),
			Template:    fmt.Sprintf("Respond in %s format (%d examples)", strings.ReplaceAll(grp.key, "_", " "), len(grp.examples)),
			Examples:    outputs(grp.examples, 2),
			Confidence:  formatConfidence,
			Frequency:   len(grp.examples),
			LastUpdated: now,
		})
	}
	return out
}

func structureTemplate(signature string, n int) string {
	if signature == "" {
		return fmt.Sprintf("Unstructured response (%d examples)", n)
	}
	parts := strings.Split(strings.ToLower(signature), "_")
	return fmt.Sprintf("Organize the response as %s (%d examples)", strings.Join(parts, ", "), n)
}

func styleTemplate(class string, features []Style) string {
	var length, formality, questions float64
	for _, f := range features {
		length += f.SentenceLength
		formality += f.Formality
		questions += f.QuestionRatio
	}
	n := float64(len(features))
	return fmt.Sprintf("Write in a %s style: about %.0f words per sentence, formality %.1f, question ratio %.2f",
		class, length/n, formality/n, questions/n)
}

func outputs(examples []model.TeacherExample, limit int) []string {
	n := min(limit, len(examples))
	out := make([]string, n)
	for i := range n {
		out[i] = examples[i].Output
	}
	return out
}

func shortHash(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // ids only
	return hex.EncodeToString(sum[:])[:8]
}
