package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/model"
)

func mixedExamples() []model.TeacherExample {
	return []model.TeacherExample{
		example(`{"q":"a"}`, "go", "api"),
		example(`{"q":"b"}`, "go", "api"),
		example("Plain answer", "python"),
		example("Plain answer", "python"),
	}
}

func TestTransferKnowledge(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	res := e.TransferKnowledge(mixedExamples(), model.ModelInfo{Model: "student-1"})

	// structure (all TEXT), style_casual, two content groups, format_json
	assert.Len(t, res.Patterns, 5)
	assert.Equal(t, 5, res.Metrics.PatternsExtracted)
	assert.Equal(t, 1, res.Metrics.HighConfidence)
	assert.InDelta(t, 1.0, res.Metrics.Coverage, 1e-9)

	require.Len(t, res.LearningDataset, 9)
	assert.Equal(t, ItemPattern, res.LearningDataset[0].Type)
	assert.Equal(t, ItemTeacher, res.LearningDataset[8].Type)
	for _, item := range res.LearningDataset[:5] {
		assert.LessOrEqual(t, len(item.Examples), 2)
	}

	require.Len(t, res.Instructions.PatternSpecific, 1)
	format := res.Instructions.PatternSpecific[model.PatternFormat]
	assert.Equal(t, 1, format.Count)
	assert.Equal(t, []string{"api", "go"}, format.Keywords)
	assert.Len(t, res.Instructions.General, 4)
	assert.Len(t, res.Instructions.Lines(), 5)

	assert.Len(t, res.Benchmarks, 4)

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, "student-1", history[0].Student)
	assert.Equal(t, 4, history[0].TeacherExamples)
}

func TestTransferKnowledge_NoExamples(t *testing.T) {
	t.Parallel()

	res := NewEngine().TransferKnowledge(nil, model.ModelInfo{})
	assert.Empty(t, res.Patterns)
	assert.Empty(t, res.Benchmarks)
	assert.Zero(t, res.Metrics.Coverage)
	assert.Empty(t, res.Instructions.PatternSpecific)
}

func TestSelectDiverse(t *testing.T) {
	t.Parallel()

	var examples []model.TeacherExample
	combos := [][]string{{"a"}, {"b"}, {"a", "c"}}
	for i := 0; i < 12; i++ {
		ex := example("out", combos[i%3]...)
		ex.Confidence = float64(i) / 12
		examples = append(examples, ex)
	}

	got := selectDiverse(examples, 10)
	require.Len(t, got, 10)
	assert.Equal(t, []string{"a"}, got[0].Context.Keywords)
	assert.Equal(t, []string{"b"}, got[1].Context.Keywords)
	assert.Equal(t, []string{"a", "c"}, got[2].Context.Keywords)
	// backfill is by descending confidence
	assert.InDelta(t, 11.0/12, got[3].Confidence, 1e-9)
	for i := 4; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Confidence, got[i-1].Confidence)
	}

	assert.Len(t, selectDiverse(examples[:5], 10), 5)
}

func TestCoverage(t *testing.T) {
	t.Parallel()

	patterns := []model.KnowledgePattern{{Keywords: []string{"go"}}}
	examples := []model.TeacherExample{
		example("x", "go"),
		example("y", "rust"),
		example("z"),
		example("w", "rust", "go"),
	}
	assert.InDelta(t, 0.5, Coverage(patterns, examples), 1e-9)
	assert.Zero(t, Coverage(patterns, nil))
	assert.Zero(t, Coverage(nil, examples))
}
