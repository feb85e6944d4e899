package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/cost"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/store"
)

func TestNewWithProviders_Validation(t *testing.T) {
	t.Parallel()

	opus := newProvider(t, "opus", opusInfo)
	turbo := newProvider(t, "turbo", turboInfo)

	_, err := NewWithProviders(testConfig(), store.NewMemory(), nil, []provider.Provider{turbo})
	require.Error(t, err)

	_, err = NewWithProviders(testConfig(), store.NewMemory(), []provider.Provider{opus}, []provider.Provider{turbo, turbo})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider name")

	cfg := testConfig()
	cfg.Distill.OptimizationStrategy = "cheapest"
	_, err = NewWithProviders(cfg, store.NewMemory(), []provider.Provider{opus}, []provider.Provider{turbo})
	require.Error(t, err)
}

func TestManager_PairsAndProviders(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, testConfig(),
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo), newProvider(t, "mini", miniInfo)},
	)

	assert.Equal(t, []PairKey{
		{TeacherID: "opus", StudentID: "mini"},
		{TeacherID: "opus", StudentID: "turbo"},
	}, m.Pairs())

	infos := m.Providers()
	require.Len(t, infos, 3)
	assert.Equal(t, provider.RoleTeacher, infos[0].Role)
	assert.Equal(t, "mini", infos[2].Name)
	assert.Equal(t, provider.RoleStudent, infos[2].Role)
}

func TestManager_SelectPair(t *testing.T) {
	t.Parallel()

	teachers := []provider.Provider{newProvider(t, "opus", opusInfo)}
	students := []provider.Provider{newProvider(t, "turbo", turboInfo), newProvider(t, "mini", miniInfo)}
	m, _ := newManager(t, testConfig(), teachers, students)

	classification := qaRequest(10)
	classification.DataType = model.DataTypeClassification
	assert.Equal(t, PairKey{TeacherID: "opus", StudentID: "mini"}, m.SelectPair(classification),
		"cheapest student covers a simple task")
	assert.Equal(t, PairKey{TeacherID: "opus", StudentID: "turbo"}, m.SelectPair(qaRequest(10)),
		"mini cannot cover qa complexity")

	cfg := testConfig()
	cfg.Distill.CostOptimization = false
	m, _ = newManager(t, cfg, teachers, students)
	assert.Equal(t, "turbo", m.SelectPair(classification).StudentID)
}

func TestManager_Generate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	teacher := newProvider(t, "opus", opusInfo)
	teacher.On("Generate", mock.Anything, mock.Anything, seedOpts).
		Return(result("A concise answer about finance risk.", 0.9), nil).Times(3)
	teacher.On("Generate", mock.Anything, mock.Anything, validateOpts).
		Return(result("0.9", 0.9), nil).Times(3)

	student := newProvider(t, "turbo", turboInfo)
	student.On("Generate", mock.Anything, mock.Anything, bulkOpts).
		Return(result("Student answer.", 0.8), nil).Times(30)

	m, st := newManager(t, testConfig(), []provider.Provider{teacher}, []provider.Provider{student})

	req := qaRequest(30)
	run, err := m.Generate(ctx, req, GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "opus", run.TeacherID)
	assert.Equal(t, "turbo", run.StudentID)
	require.NotNil(t, run.Response)
	assert.Equal(t, run.Response.ID, run.ID)
	assert.Len(t, run.Response.Data, 33)
	assert.InDelta(t, 0.9, run.Response.QualityScore, 1e-9)

	saved, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, saved.Status)

	cached, err := st.GetPatterns(ctx, CacheKey(req))
	require.NoError(t, err)
	assert.NotEmpty(t, cached, "three identical seeds form at least a structural pattern")

	key := PairKey{TeacherID: "opus", StudentID: "turbo"}
	usage := m.Usage().Usage(key)
	assert.Equal(t, 1, usage.Requests)
	assert.Equal(t, 33, usage.Items)
	assert.Equal(t, 36*300, usage.Tokens)
	assert.InDelta(t, run.Response.Cost, usage.Cost, 1e-12)

	status := m.Status()
	assert.Equal(t, []string{"opus"}, status.Teachers)
	assert.Equal(t, []string{"turbo"}, status.Students)
	assert.True(t, status.CachePatterns)
	assert.Positive(t, status.KnownPatterns)
	assert.Equal(t, 1, status.Usage.TotalRequests)
	assert.InDelta(t, run.Response.Cost, status.Spending.AllTime, 1e-12)
	assert.Nil(t, status.Budget)
	require.NotNil(t, status.Transfer)

	md := run.Response.Metadata
	assert.InDelta(t, run.Response.Cost, md.TeacherCost+md.StudentCost, 1e-12)

	teacherHist := m.optimizer.History(ProfileKey(provider.RoleTeacher, "opus"))
	require.Len(t, teacherHist, 1)
	assert.InDelta(t, md.TeacherCost, teacherHist[0].Cost, 1e-12)
	assert.InDelta(t, 0.9, teacherHist[0].Quality, 1e-9, "mean confidence of the seeds")

	studentHist := m.optimizer.History(ProfileKey(provider.RoleStudent, "turbo"))
	require.Len(t, studentHist, 1)
	assert.InDelta(t, md.StudentCost, studentHist[0].Cost, 1e-12)
	assert.InDelta(t, 0.9, studentHist[0].Quality, 1e-9)
}

func TestManager_ReserveBudget_CountsRunsInFlight(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	m, _ := newManager(t, cfg,
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)
	key := PairKey{TeacherID: "opus", StudentID: "turbo"}
	req := qaRequest(100)
	est, err := m.EstimateCost(req, key)
	require.NoError(t, err)

	// Room for one run but not two.
	m.cfg.Budget = config.BudgetConfig{Total: est * 1.5}
	m.budget = cost.BudgetFromConfig(m.cfg.Budget)
	log := zap.NewNop()

	release, err := m.reserveBudget(req, key, log)
	require.NoError(t, err)

	_, err = m.reserveBudget(req, key, log)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr, "a second run must not pass while the first is in flight")

	release()
	release2, err := m.reserveBudget(req, key, log)
	require.NoError(t, err)
	release2()
	assert.Zero(t, m.reserved)
}

func TestManager_Generate_AppliesCachedPatterns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	teacher := newProvider(t, "opus", opusInfo)
	teacher.On("Generate", mock.Anything, mock.Anything, seedOpts).
		Return(result("Seed.", 0.9), nil).Once()
	teacher.On("Generate", mock.Anything, mock.Anything, validateOpts).
		Return(result("0.8", 0.9), nil).Once()

	student := newProvider(t, "turbo", turboInfo)
	student.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "format_cached")
	}), bulkOpts).Return(result("Item.", 0.8), nil).Times(10)

	m, st := newManager(t, testConfig(), []provider.Provider{teacher}, []provider.Provider{student})

	// Keyword order and case do not change the cache entry.
	req := qaRequest(10)
	warm := req
	warm.Keywords = []string{"RISK", "Finance"}
	require.NoError(t, st.SetPatterns(ctx, CacheKey(warm), model.DataTypeQA, []model.KnowledgePattern{
		{PatternID: "format_cached", PatternType: model.PatternFormat, Template: "Format: text", Confidence: 0.9},
	}))

	_, err := m.Generate(ctx, req, GenerateOptions{})
	require.NoError(t, err)
}

func TestManager_Generate_CacheDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	teacher := newProvider(t, "opus", opusInfo)
	teacher.On("Generate", mock.Anything, mock.Anything, seedOpts).
		Return(result("Same seed.", 0.9), nil).Times(2)
	teacher.On("Generate", mock.Anything, mock.Anything, validateOpts).
		Return(result("0.7", 0.9), nil).Times(2)
	student := newProvider(t, "turbo", turboInfo)
	student.On("Generate", mock.Anything, mock.Anything, bulkOpts).
		Return(result("Item.", 0.8), nil).Times(20)

	cfg := testConfig()
	cfg.Distill.CachePatterns = false
	m, st := newManager(t, cfg, []provider.Provider{teacher}, []provider.Provider{student})

	req := qaRequest(20)
	_, err := m.Generate(ctx, req, GenerateOptions{})
	require.NoError(t, err)

	cached, err := st.GetPatterns(ctx, CacheKey(req))
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestManager_Generate_ExplicitPair(t *testing.T) {
	t.Parallel()

	teacher := newProvider(t, "opus", opusInfo)
	teacher.On("Generate", mock.Anything, mock.Anything, seedOpts).
		Return(result("Seed.", 0.9), nil).Once()
	teacher.On("Generate", mock.Anything, mock.Anything, validateOpts).
		Return(result("0.8", 0.9), nil).Once()
	turbo := newProvider(t, "turbo", turboInfo)
	mini := newProvider(t, "mini", miniInfo)
	mini.On("Generate", mock.Anything, mock.Anything, bulkOpts).
		Return(result("Item.", 0.6), nil).Times(10)

	m, _ := newManager(t, testConfig(), []provider.Provider{teacher}, []provider.Provider{turbo, mini})

	pin := PairKey{TeacherID: "opus", StudentID: "mini"}
	run, err := m.Generate(context.Background(), qaRequest(10), GenerateOptions{Pair: &pin})
	require.NoError(t, err)
	assert.Equal(t, "mini", run.StudentID)
	assert.Equal(t, "opus + mini", run.Response.ModelUsed)
}

func TestManager_Generate_UnknownPair(t *testing.T) {
	t.Parallel()

	m, st := newManager(t, testConfig(),
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)

	pin := PairKey{TeacherID: "opus", StudentID: "gpt-9"}
	_, err := m.Generate(context.Background(), qaRequest(10), GenerateOptions{Pair: &pin})

	var unknown *UnknownPairError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, pin, unknown.Pair)
	assert.Contains(t, err.Error(), "opus->gpt-9")

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestManager_Generate_InvalidRequest(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, testConfig(),
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)

	_, err := m.Generate(context.Background(), model.GenerationRequest{DataType: model.DataTypeQA, Quantity: 5}, GenerateOptions{})
	var reqErr *model.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "keywords", reqErr.Field)
}

func TestManager_Generate_BudgetExceeded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Budget = config.BudgetConfig{Total: 0.000001}
	m, st := newManager(t, cfg,
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)

	_, err := m.Generate(context.Background(), qaRequest(100), GenerateOptions{})
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Positive(t, budgetErr.Estimated)
	assert.False(t, budgetErr.Status.WithinBudget)
	assert.Contains(t, err.Error(), "total_budget_exceeded")

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected runs never reach a provider or the store")

	require.NotNil(t, m.Status().Budget)
}

func TestManager_EstimateCost(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, testConfig(),
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)
	key := PairKey{TeacherID: "opus", StudentID: "turbo"}

	small, err := m.EstimateCost(qaRequest(10), key)
	require.NoError(t, err)
	large, err := m.EstimateCost(qaRequest(1000), key)
	require.NoError(t, err)
	assert.Greater(t, large, small)

	_, err = m.EstimateCost(qaRequest(10), PairKey{TeacherID: "opus", StudentID: "nope"})
	require.Error(t, err)
}

func TestManager_Optimize(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, testConfig(),
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)

	opt, err := m.Optimize(qaRequest(100), "cost_first", nil)
	require.NoError(t, err)
	require.NotNil(t, opt.Selection)
	assert.Equal(t, ProfileKey(provider.RoleStudent, "turbo"), opt.Selection.Recommended)
	assert.NotEmpty(t, opt.Timing.Recommendation)

	_, err = m.Optimize(qaRequest(100), "cheapest", nil)
	require.Error(t, err)

	_, err = m.Optimize(model.GenerationRequest{}, "", nil)
	var reqErr *model.RequestError
	require.ErrorAs(t, err, &reqErr)
}

func TestManager_ProfileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  student:turbo:
    provider: openai
    model: gpt-3.5-turbo
    role: student
    input_cost_per_1k: 0.0005
    output_cost_per_1k: 0.0015
    quality_rating: 0.42
    speed_rating: 60
    reliability_rating: 0.9
`), 0o600))

	cfg := testConfig()
	cfg.Profiles.Path = path
	m, _ := newManager(t, cfg,
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)

	p, ok := m.optimizer.Profile("student:turbo")
	require.True(t, ok)
	assert.InDelta(t, 0.42, p.QualityRating, 1e-12)

	cfg.Profiles.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewWithProviders(cfg, store.NewMemory(),
		[]provider.Provider{newProvider(t, "opus", opusInfo)},
		[]provider.Provider{newProvider(t, "turbo", turboInfo)},
	)
	require.Error(t, err)
}

func TestNew_BuildsFromRegistry(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry()
	teacher := newProvider(t, "opus", opusInfo)
	student := newProvider(t, "turbo", turboInfo)
	reg.Register(provider.RoleTeacher, "fake", func(config.ProviderConfig) (provider.Provider, error) { return teacher, nil })
	reg.Register(provider.RoleStudent, "fake", func(config.ProviderConfig) (provider.Provider, error) { return student, nil })

	cfg := testConfig()
	cfg.Teachers = []config.ProviderConfig{{Name: "opus", Type: "fake"}}
	cfg.Students = []config.ProviderConfig{{Name: "turbo", Type: "fake", RateLimitPerMinute: 600}}

	m, err := New(cfg, store.NewMemory(), reg)
	require.NoError(t, err)
	assert.Len(t, m.Pairs(), 1)

	p, ok := m.optimizer.Profile("student:turbo")
	require.True(t, ok)
	assert.InDelta(t, 600, p.SpeedRating, 1e-9)

	cfg.Students = []config.ProviderConfig{{Name: "x", Type: "unregistered"}}
	_, err = New(cfg, store.NewMemory(), reg)
	require.Error(t, err)
}
