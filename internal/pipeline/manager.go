// Package pipeline runs distillation requests across every configured
// teacher/student pair, with budget gating, pattern caching and run
// persistence around each orchestrator run.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/cost"
	"github.com/sells-group/distill-cli/internal/distill"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/store"
	"github.com/sells-group/distill-cli/internal/transfer"
)

// spendingReportDays is the trailing window reported by Status.
const spendingReportDays = 7

// defaultPerMinute stands in for providers built outside the config.
const defaultPerMinute = 60

// PairKey identifies a teacher/student pair by provider name.
type PairKey struct {
	TeacherID string `json:"teacher_id"`
	StudentID string `json:"student_id"`
}

func (k PairKey) String() string {
	return k.TeacherID + "->" + k.StudentID
}

// GenerateOptions adjust a single Generate call.
type GenerateOptions struct {
	// Pair pins the run to one pair. Nil lets the manager choose.
	Pair *PairKey
}

// ProviderInfo describes one configured provider.
type ProviderInfo struct {
	Name string          `json:"name"`
	Role provider.Role   `json:"role"`
	Info model.ModelInfo `json:"info"`
}

// pair serializes runs on one orchestrator; the student's learned state is
// per pair.
type pair struct {
	mu   sync.Mutex
	key  PairKey
	orch *distill.Orchestrator
}

// Manager owns one orchestrator per teacher/student pair.
type Manager struct {
	cfg      *config.Config
	store    store.Store
	teachers []provider.Provider
	students []provider.Provider
	pairs    map[PairKey]*pair

	engine    *transfer.Engine
	adaptive  *transfer.AdaptiveManager
	optimizer *cost.Optimizer
	strategy  cost.Strategy
	budget    cost.Budget
	spend     *cost.BudgetTracker
	pricing   *cost.DynamicPricing
	usage     *UsageTracker

	// reserved is the estimated spend of admitted runs still in flight.
	budgetMu sync.Mutex
	reserved float64
}

// New builds every configured provider through reg and wires a Manager.
func New(cfg *config.Config, st store.Store, reg *provider.Registry) (*Manager, error) {
	teachers, err := buildAll(reg, provider.RoleTeacher, cfg.Teachers)
	if err != nil {
		return nil, err
	}
	students, err := buildAll(reg, provider.RoleStudent, cfg.Students)
	if err != nil {
		return nil, err
	}
	return NewWithProviders(cfg, st, teachers, students)
}

func buildAll(reg *provider.Registry, role provider.Role, cfgs []config.ProviderConfig) ([]provider.Provider, error) {
	out := make([]provider.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		p, err := reg.Build(role, pc)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: build %s %s", role, pc.Name)
		}
		out = append(out, p)
	}
	return out, nil
}

// NewWithProviders wires a Manager around already-built providers.
func NewWithProviders(cfg *config.Config, st store.Store, teachers, students []provider.Provider) (*Manager, error) {
	if len(teachers) == 0 || len(students) == 0 {
		return nil, eris.New("pipeline: at least one teacher and one student are required")
	}
	if err := uniqueNames(teachers); err != nil {
		return nil, eris.Wrap(err, "pipeline: teachers")
	}
	if err := uniqueNames(students); err != nil {
		return nil, eris.Wrap(err, "pipeline: students")
	}
	strategy, err := cost.ParseStrategy(cfg.Distill.OptimizationStrategy)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: optimization strategy")
	}

	m := &Manager{
		cfg:       cfg,
		store:     st,
		teachers:  teachers,
		students:  students,
		pairs:     make(map[PairKey]*pair),
		engine:    transfer.NewEngine(),
		optimizer: cost.NewOptimizer(),
		strategy:  strategy,
		budget:    cost.BudgetFromConfig(cfg.Budget),
		spend:     cost.NewBudgetTracker(),
		pricing:   cost.NewDynamicPricing(),
		usage:     NewUsageTracker(),
	}
	if cfg.Distill.AdaptiveLearning {
		m.adaptive = transfer.NewAdaptiveManager()
	}

	for _, t := range teachers {
		m.optimizer.Register(ProfileKey(provider.RoleTeacher, t.Name()),
			cost.ProfileFromModel(t.Describe(), cost.RoleTeacher, perMinute(cfg.Teachers, t.Name())))
	}
	for _, s := range students {
		m.optimizer.Register(ProfileKey(provider.RoleStudent, s.Name()),
			cost.ProfileFromModel(s.Describe(), cost.RoleStudent, perMinute(cfg.Students, s.Name())))
	}
	if cfg.Profiles.Path != "" {
		overrides, err := cost.LoadProfiles(cfg.Profiles.Path)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load profiles")
		}
		for key, p := range overrides {
			m.optimizer.Register(key, p)
		}
		zap.L().Info("pipeline: loaded cost profile overrides", zap.Int("count", len(overrides)))
	}

	opts := distill.Options{
		MaxSeeds:          cfg.Distill.MaxTeacherExamples,
		BatchSize:         cfg.Distill.StudentBatchSize,
		SampleRatio:       cfg.Distill.ValidationSampleRatio,
		SeedRetryAttempts: cfg.Distill.SeedRetryAttempts,
		Scorer:            distill.ScorerByName(cfg.Distill.LearningScorer),
		Engine:            m.engine,
		Adaptive:          m.adaptive,
	}
	for _, t := range teachers {
		for _, s := range students {
			key := PairKey{TeacherID: t.Name(), StudentID: s.Name()}
			m.pairs[key] = &pair{key: key, orch: distill.NewOrchestrator(t, s, opts)}
		}
	}

	zap.L().Info("pipeline: manager ready",
		zap.Int("teachers", len(teachers)),
		zap.Int("students", len(students)),
		zap.Int("pairs", len(m.pairs)),
		zap.String("optimization_strategy", string(strategy)),
	)
	return m, nil
}

// ProfileKey names the cost profile of a provider in role.
func ProfileKey(role provider.Role, name string) string {
	return string(role) + ":" + name
}

func uniqueNames(ps []provider.Provider) error {
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if seen[p.Name()] {
			return eris.Errorf("duplicate provider name %q", p.Name())
		}
		seen[p.Name()] = true
	}
	return nil
}

func perMinute(cfgs []config.ProviderConfig, name string) int {
	for _, pc := range cfgs {
		if pc.Name == name && pc.RateLimitPerMinute > 0 {
			return pc.RateLimitPerMinute
		}
	}
	return defaultPerMinute
}

// Pairs returns every configured pair in a stable order.
func (m *Manager) Pairs() []PairKey {
	keys := make([]PairKey, 0, len(m.pairs))
	for k := range m.pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TeacherID != keys[j].TeacherID {
			return keys[i].TeacherID < keys[j].TeacherID
		}
		return keys[i].StudentID < keys[j].StudentID
	})
	return keys
}

// Providers lists teachers then students.
func (m *Manager) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(m.teachers)+len(m.students))
	for _, p := range m.teachers {
		out = append(out, ProviderInfo{Name: p.Name(), Role: provider.RoleTeacher, Info: p.Describe()})
	}
	for _, p := range m.students {
		out = append(out, ProviderInfo{Name: p.Name(), Role: provider.RoleStudent, Info: p.Describe()})
	}
	return out
}

// Store returns the run store.
func (m *Manager) Store() store.Store { return m.store }

// Usage returns the usage tracker.
func (m *Manager) Usage() *UsageTracker { return m.usage }

// SelectPair chooses a pair for req: the most capable teacher, and either
// the cheapest student able to handle the task's complexity or, with cost
// optimization off, the best capability-for-price student.
func (m *Manager) SelectPair(req model.GenerationRequest) PairKey {
	teacher, student := provider.OptimalPair(m.teachers, m.students)
	if m.cfg.Distill.CostOptimization {
		student = provider.CheapestFor(m.students, TaskComplexity(req))
	}
	return PairKey{TeacherID: teacher.Name(), StudentID: student.Name()}
}

// EstimateCost projects the spend of running req on key: seed calls on
// the teacher plus bulk calls on the student.
func (m *Manager) EstimateCost(req model.GenerationRequest, key PairKey) (float64, error) {
	seeds := distill.SeedCount(req.Quantity, m.cfg.Distill.MaxTeacherExamples)
	tEst, err := m.optimizer.Estimate(req.WithQuantity(seeds), ProfileKey(provider.RoleTeacher, key.TeacherID))
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: estimate teacher")
	}
	sEst, err := m.optimizer.Estimate(req, ProfileKey(provider.RoleStudent, key.StudentID))
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: estimate student")
	}
	return tEst.Cost + sEst.Cost, nil
}

// Generate runs req on the requested or selected pair and persists the
// resulting run. Provider failures degrade the dataset; errors are returned
// for invalid requests, unknown pairs and budget violations.
func (m *Manager) Generate(ctx context.Context, req model.GenerationRequest, opts GenerateOptions) (*model.Run, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: generate")
	}

	var key PairKey
	if opts.Pair != nil {
		key = *opts.Pair
	} else {
		key = m.SelectPair(req)
	}
	p, ok := m.pairs[key]
	if !ok {
		return nil, &UnknownPairError{Pair: key}
	}

	log := zap.L().With(
		zap.String("teacher", key.TeacherID),
		zap.String("student", key.StudentID),
		zap.String("data_type", string(req.DataType)),
		zap.Int("quantity", req.Quantity),
	)
	log.Info("pipeline: pair selected",
		zap.Bool("explicit", opts.Pair != nil),
		zap.Float64("complexity", TaskComplexity(req)),
	)

	release, err := m.reserveBudget(req, key, log)
	if err != nil {
		return nil, err
	}
	defer release()

	p.mu.Lock()
	defer p.mu.Unlock()

	cacheKey := CacheKey(req)
	var cached []model.KnowledgePattern
	if m.cfg.Distill.CachePatterns {
		cached = m.cachedPatterns(ctx, cacheKey, log)
	}

	resp, err := p.orch.GenerateDatasetWithPatterns(ctx, req, cached)
	if err != nil {
		run := &model.Run{
			ID:        uuid.NewString(),
			Request:   req,
			TeacherID: key.TeacherID,
			StudentID: key.StudentID,
			Status:    model.RunStatusFailed,
			Error:     err.Error(),
			CreatedAt: time.Now().UTC(),
		}
		m.save(ctx, run, log)
		return nil, eris.Wrap(err, "pipeline: generate")
	}

	if m.cfg.Distill.CachePatterns && len(resp.Patterns) > 0 {
		if err := m.store.SetPatterns(ctx, cacheKey, req.DataType, resp.Patterns); err != nil {
			log.Warn("pipeline: cache patterns failed", zap.Error(err))
		}
	}
	m.track(key, resp, log)

	run := &model.Run{
		ID:        resp.ID,
		Request:   req,
		Response:  resp,
		TeacherID: key.TeacherID,
		StudentID: key.StudentID,
		Status:    model.RunStatusComplete,
		CreatedAt: time.Now().UTC(),
	}
	m.save(ctx, run, log)
	return run, nil
}

// reserveBudget admits a run whose estimate fits the ceilings alongside
// every run still in flight, and holds that estimate until release is
// called. Tracked spend replaces the hold once the run finishes.
func (m *Manager) reserveBudget(req model.GenerationRequest, key PairKey, log *zap.Logger) (release func(), err error) {
	if !m.cfg.Budget.Enabled() {
		return func() {}, nil
	}
	est, err := m.EstimateCost(req, key)
	if err != nil {
		return nil, err
	}

	m.budgetMu.Lock()
	status := m.spend.CheckBudgetConstraints(m.budget, m.reserved+est)
	if !status.WithinBudget {
		inFlight := m.reserved
		m.budgetMu.Unlock()
		log.Warn("pipeline: budget exceeded",
			zap.Float64("estimated_cost", est),
			zap.Float64("in_flight", inFlight),
			zap.Int("violations", len(status.Violations)),
		)
		return nil, &BudgetExceededError{Estimated: est, Status: status}
	}
	m.reserved += est
	m.budgetMu.Unlock()

	release = func() {
		m.budgetMu.Lock()
		m.reserved -= est
		m.budgetMu.Unlock()
	}
	if advice := m.pricing.OptimalTiming(est); advice.Recommendation == cost.RecommendDelay {
		log.Info("pipeline: off-peak execution would be cheaper",
			zap.Float64("savings", advice.Savings),
			zap.Time("next_off_peak", advice.NextOffPeak),
		)
	}
	return release, nil
}

func (m *Manager) cachedPatterns(ctx context.Context, cacheKey string, log *zap.Logger) []model.KnowledgePattern {
	patterns, err := m.store.GetPatterns(ctx, cacheKey)
	if err != nil {
		log.Warn("pipeline: read pattern cache failed", zap.Error(err))
		return nil
	}
	if len(patterns) > 0 {
		log.Debug("pipeline: applying cached patterns",
			zap.String("cache_key", cacheKey),
			zap.Int("patterns", len(patterns)),
		)
	}
	return patterns
}

func (m *Manager) track(key PairKey, resp *model.GenerationResponse, log *zap.Logger) {
	now := time.Now()
	m.spend.TrackSpending(resp.Cost, now)
	m.usage.Track(key, len(resp.Data), resp.Metadata.TokensUsed, resp.Cost)
	m.pricing.Track(now, resp.Cost, resp.QualityScore)

	md := resp.Metadata
	if err := m.optimizer.TrackActualPerformance(ProfileKey(provider.RoleStudent, key.StudentID), md.StudentCost, resp.QualityScore); err != nil {
		log.Warn("pipeline: track student performance failed", zap.Error(err))
	}
	// A teacher that produced no seeds has nothing to be rated on.
	if md.TeacherExamples == 0 {
		return
	}
	if err := m.optimizer.TrackActualPerformance(ProfileKey(provider.RoleTeacher, key.TeacherID), md.TeacherCost, meanQuality(resp, model.SourceTeacher)); err != nil {
		log.Warn("pipeline: track teacher performance failed", zap.Error(err))
	}
}

func meanQuality(resp *model.GenerationResponse, src model.Source) float64 {
	var sum float64
	n := 0
	for _, d := range resp.Data {
		if d.Source == src {
			sum += d.Quality
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// save persists run. A storage failure is logged, not returned: the
// dataset has already been paid for and is handed back to the caller.
func (m *Manager) save(ctx context.Context, run *model.Run, log *zap.Logger) {
	if err := m.store.SaveRun(ctx, run); err != nil {
		log.Error("pipeline: save run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// Optimization is the answer to an Optimize call.
type Optimization struct {
	Selection  *cost.Selection   `json:"selection"`
	Allocation *cost.Allocation  `json:"allocation,omitempty"`
	Timing     cost.TimingAdvice `json:"timing"`
}

// Optimize recommends a model, a teacher/student split and a timing for
// req. An empty strategy uses the configured one; a nil budget uses the
// configured ceilings.
func (m *Manager) Optimize(req model.GenerationRequest, strategy string, budget *cost.Budget) (*Optimization, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: optimize")
	}
	st := m.strategy
	if strategy != "" {
		var err error
		if st, err = cost.ParseStrategy(strategy); err != nil {
			return nil, eris.Wrap(err, "pipeline: optimize")
		}
	}
	b := m.budget
	if budget != nil {
		b = *budget
	}

	sel, err := m.optimizer.OptimizeModelSelection(req, b, st)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: optimize")
	}
	out := &Optimization{Selection: sel, Timing: m.pricing.OptimalTiming(sel.EstimatedCost)}

	alloc, err := m.optimizer.OptimizeTeacherStudentAllocation(req, b)
	var noAlloc *cost.NoViableAllocationError
	switch {
	case errors.As(err, &noAlloc):
		zap.L().Debug("pipeline: no viable allocation", zap.Strings("reasons", noAlloc.Reasons))
	case err != nil:
		return nil, eris.Wrap(err, "pipeline: optimize allocation")
	default:
		out.Allocation = alloc
	}
	return out, nil
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	Teachers             []string                `json:"teachers"`
	Students             []string                `json:"students"`
	Pairs                []PairKey               `json:"pairs"`
	CostOptimization     bool                    `json:"cost_optimization_enabled"`
	AdaptiveLearning     bool                    `json:"adaptive_learning_enabled"`
	CachePatterns        bool                    `json:"cache_patterns_enabled"`
	OptimizationStrategy cost.Strategy           `json:"optimization_strategy"`
	KnownPatterns        int                     `json:"known_patterns"`
	Usage                UsageReport             `json:"usage_report"`
	Spending             cost.SpendingReport     `json:"spending_report"`
	Budget               *cost.BudgetStatus      `json:"budget,omitempty"`
	Transfer             *transfer.Effectiveness `json:"transfer_effectiveness,omitempty"`
	Pricing              *cost.PricingAnalysis   `json:"pricing_analysis,omitempty"`
}

// Status reports configuration, usage and learning state.
func (m *Manager) Status() Status {
	s := Status{
		Pairs:                m.Pairs(),
		CostOptimization:     m.cfg.Distill.CostOptimization,
		AdaptiveLearning:     m.cfg.Distill.AdaptiveLearning,
		CachePatterns:        m.cfg.Distill.CachePatterns,
		OptimizationStrategy: m.strategy,
		KnownPatterns:        len(m.engine.Extractor().Patterns()),
		Usage:                m.usage.Report(),
		Spending:             m.spend.SpendingReport(spendingReportDays),
	}
	for _, p := range m.teachers {
		s.Teachers = append(s.Teachers, p.Name())
	}
	for _, p := range m.students {
		s.Students = append(s.Students, p.Name())
	}
	if m.cfg.Budget.Enabled() {
		b := m.spend.CheckBudgetConstraints(m.budget, 0)
		s.Budget = &b
	}
	if eff, ok := m.engine.Tracker().Effectiveness(); ok {
		s.Transfer = &eff
	}
	if a, ok := m.pricing.Analyze(); ok {
		s.Pricing = &a
	}
	return s
}
