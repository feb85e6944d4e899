package cost

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/model"
)

func cheapProfile() Profile {
	return Profile{Provider: "google", Model: "gemini-pro", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015,
		QualityRating: 0.7, SpeedRating: 60, ReliabilityRating: 0.9}
}

func premiumProfile() Profile {
	return Profile{Provider: "openai", Model: "gpt-4", InputCostPer1K: 0.03, OutputCostPer1K: 0.06,
		QualityRating: 0.95, SpeedRating: 30, ReliabilityRating: 0.95}
}

func twoProfiles() *Optimizer {
	o := NewOptimizer()
	o.Register("cheap", cheapProfile())
	o.Register("premium", premiumProfile())
	return o
}

func qaRequest(n int) model.GenerationRequest {
	return model.GenerationRequest{Keywords: []string{"AI"}, DataType: model.DataTypeQA, Quantity: n, QualityThreshold: 0.8}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, s)

	for _, in := range []string{"cost_first", "quality_first", "balanced", "adaptive"} {
		s, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, Strategy(in), s)
	}

	_, err = ParseStrategy("cheapest")
	assert.Error(t, err)
}

func TestOptimizeModelSelection_Strategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyCostFirst, "cheap"},
		{StrategyQualityFirst, "premium"},
		{StrategyBalanced, "cheap"},
		{StrategyAdaptive, "cheap"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			t.Parallel()
			sel, err := twoProfiles().OptimizeModelSelection(qaRequest(100), Budget{Total: 10}, tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Recommended)
			assert.Equal(t, tt.strategy, sel.Strategy)
			require.Len(t, sel.Alternatives, 1)
			assert.Greater(t, sel.BudgetUtilization, 0.0)
		})
	}
}

func TestOptimizeModelSelection_BudgetFilters(t *testing.T) {
	t.Parallel()

	o := twoProfiles()
	sel, err := o.OptimizeModelSelection(qaRequest(100), Budget{Total: 0.1}, StrategyQualityFirst)
	require.NoError(t, err)
	assert.Equal(t, "cheap", sel.Recommended, "premium costs about 0.30")
	assert.Empty(t, sel.Alternatives)
	assert.InDelta(t, sel.EstimatedCost/0.1, sel.BudgetUtilization, 1e-9)

	_, err = o.OptimizeModelSelection(qaRequest(100), Budget{Total: 0.001}, StrategyBalanced)
	var nv *NoViableProviderError
	require.ErrorAs(t, err, &nv)
	assert.Equal(t, 2, nv.Evaluated)
	assert.Len(t, nv.Rejections, 2)
	assert.Contains(t, nv.Error(), "exceeds total budget")
}

func TestOptimizeModelSelection_PerItemAndRatio(t *testing.T) {
	t.Parallel()

	o := twoProfiles()
	// premium: 0.30315 over 100 items is 0.003 per item
	sel, err := o.OptimizeModelSelection(qaRequest(100), Budget{PerItem: 0.001}, StrategyQualityFirst)
	require.NoError(t, err)
	assert.Equal(t, "cheap", sel.Recommended)

	// premium quality/cost is about 3.1
	sel, err = o.OptimizeModelSelection(qaRequest(100), Budget{QualityCostRatioMin: 10}, StrategyQualityFirst)
	require.NoError(t, err)
	assert.Equal(t, "cheap", sel.Recommended)
	assert.Zero(t, sel.BudgetUtilization, "no total ceiling")
}

func TestOptimizeModelSelection_AlternativesCapped(t *testing.T) {
	t.Parallel()

	o := NewOptimizer()
	for i := 0; i < 7; i++ {
		p := cheapProfile()
		p.QualityRating = 0.5 + float64(i)/20
		o.Register(fmt.Sprintf("m%d", i), p)
	}
	sel, err := o.OptimizeModelSelection(qaRequest(10), Budget{}, StrategyQualityFirst)
	require.NoError(t, err)
	assert.Equal(t, "m6", sel.Recommended)
	assert.Len(t, sel.Alternatives, 4)
	for i := 1; i < len(sel.Alternatives); i++ {
		assert.GreaterOrEqual(t, sel.Alternatives[i-1].Score, sel.Alternatives[i].Score)
	}
}

func TestOptimizeModelSelection_NoProfiles(t *testing.T) {
	t.Parallel()

	_, err := NewOptimizer().OptimizeModelSelection(qaRequest(10), Budget{}, StrategyBalanced)
	var nv *NoViableProviderError
	assert.True(t, errors.As(err, &nv))
}

func TestAdaptiveScore_Normalized(t *testing.T) {
	t.Parallel()

	o := twoProfiles()
	for i := 0; i < 10; i++ {
		require.NoError(t, o.TrackActualPerformance("cheap", 0.01, 0.5))
	}
	sel, err := o.OptimizeModelSelection(qaRequest(100), Budget{}, StrategyAdaptive)
	require.NoError(t, err)
	assert.Equal(t, "cheap", sel.Recommended)
	assert.LessOrEqual(t, sel.Alternatives[0].Score, 1.0)
}

func TestOptimizeTeacherStudentAllocation(t *testing.T) {
	t.Parallel()

	o := NewOptimizer()
	teacher := premiumProfile()
	teacher.Role = RoleTeacher
	student := cheapProfile()
	student.Role = RoleStudent
	student.QualityRating = 0.85
	o.Register("t", teacher)
	o.Register("s", student)

	alloc, err := o.OptimizeTeacherStudentAllocation(qaRequest(100), Budget{Total: 1})
	require.NoError(t, err)
	assert.Equal(t, "t", alloc.TeacherKey)
	assert.Equal(t, "s", alloc.StudentKey)
	assert.InDelta(t, 0.05, alloc.TeacherRatio, 1e-9)
	assert.Equal(t, 5, alloc.TeacherQuantity)
	assert.Equal(t, 95, alloc.StudentQuantity)
	assert.InDelta(t, alloc.TeacherCost+alloc.StudentCost, alloc.TotalCost, 1e-12)
	assert.GreaterOrEqual(t, alloc.ExpectedQuality, 0.8)
}

func TestOptimizeTeacherStudentAllocation_ZeroThreshold(t *testing.T) {
	t.Parallel()

	o := NewOptimizer()
	teacher := premiumProfile()
	teacher.Role = RoleTeacher
	teacher.QualityRating = 0.6
	student := cheapProfile()
	student.Role = RoleStudent
	student.QualityRating = 0.5
	o.Register("t", teacher)
	o.Register("s", student)

	req := qaRequest(100)
	req.QualityThreshold = 0
	alloc, err := o.OptimizeTeacherStudentAllocation(req, Budget{Total: 100})
	require.NoError(t, err)
	assert.Less(t, alloc.ExpectedQuality, model.DefaultQualityThreshold)

	req.QualityThreshold = 0.8
	_, err = o.OptimizeTeacherStudentAllocation(req, Budget{Total: 100})
	var nv *NoViableAllocationError
	require.ErrorAs(t, err, &nv)
}

func TestOptimizeTeacherStudentAllocation_NeverExceedsBudget(t *testing.T) {
	t.Parallel()

	o := twoProfiles()
	for _, total := range []float64{0.005, 0.02, 0.03, 0.05, 0.1, 0.5, 5} {
		for _, qty := range []int{1, 10, 100, 1000} {
			req := qaRequest(qty)
			req.QualityThreshold = 0.5
			alloc, err := o.OptimizeTeacherStudentAllocation(req, Budget{Total: total})
			if err != nil {
				var nv *NoViableAllocationError
				require.ErrorAs(t, err, &nv)
				continue
			}
			assert.LessOrEqual(t, alloc.TotalCost, total, "budget %.3f qty %d", total, qty)
		}
	}
}

func TestOptimizeTeacherStudentAllocation_NoViable(t *testing.T) {
	t.Parallel()

	o := twoProfiles()
	_, err := o.OptimizeTeacherStudentAllocation(qaRequest(100), Budget{Total: 0.0001})
	var nv *NoViableAllocationError
	require.ErrorAs(t, err, &nv)
	assert.Equal(t, 10, nv.RatiosTried)
	assert.Len(t, nv.Reasons, 10)

	req := qaRequest(100)
	req.QualityThreshold = 0.99
	_, err = o.OptimizeTeacherStudentAllocation(req, Budget{Total: 100})
	require.ErrorAs(t, err, &nv)
	assert.Contains(t, nv.Error(), "below threshold")

	_, err = NewOptimizer().OptimizeTeacherStudentAllocation(req, Budget{})
	require.ErrorAs(t, err, &nv)
}

func TestTrackActualPerformance(t *testing.T) {
	t.Parallel()

	o := NewOptimizer()
	o.Register("m", Profile{QualityRating: 0.8, ReliabilityRating: 0.9})

	require.NoError(t, o.TrackActualPerformance("m", 1, 1))
	p, ok := o.Profile("m")
	require.True(t, ok)
	assert.InDelta(t, 0.82, p.QualityRating, 1e-9)
	assert.InDelta(t, 0.905, p.ReliabilityRating, 1e-9)

	assert.Error(t, o.TrackActualPerformance("other", 1, 1))

	for i := 0; i < 150; i++ {
		require.NoError(t, o.TrackActualPerformance("m", float64(i), 0.5))
	}
	h := o.History("m")
	assert.Len(t, h, 100)
	assert.InDelta(t, 149.0, h[len(h)-1].Cost, 1e-9)
}

func TestOptimizer_ConcurrentTrackAndSelect(t *testing.T) {
	t.Parallel()

	o := twoProfiles()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.TrackActualPerformance("cheap", 0.01, 0.9))
		}()
		go func() {
			defer wg.Done()
			_, err := o.OptimizeModelSelection(qaRequest(10), Budget{}, StrategyAdaptive)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, o.History("cheap"), 20)
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 3.25, percentile([]float64{4, 1, 3, 2}, 75), 1e-9)
	assert.InDelta(t, 5.0, percentile([]float64{5}, 75), 1e-9)
	assert.Zero(t, percentile(nil, 75))
}
