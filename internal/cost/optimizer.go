package cost

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/model"
)

// Strategy weights the components of a selection score.
type Strategy string

const (
	StrategyCostFirst    Strategy = "cost_first"
	StrategyQualityFirst Strategy = "quality_first"
	StrategyBalanced     Strategy = "balanced"
	StrategyAdaptive     Strategy = "adaptive"
)

// ParseStrategy validates s, defaulting an empty value to balanced.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case "":
		return StrategyBalanced, nil
	case StrategyCostFirst, StrategyQualityFirst, StrategyBalanced, StrategyAdaptive:
		return st, nil
	}
	return "", eris.Errorf("cost: unknown optimization strategy %q", s)
}

type weights struct{ cost, quality, speed, reliability float64 }

var strategyWeights = map[Strategy]weights{
	StrategyCostFirst:    {cost: 0.7, quality: 0.2, reliability: 0.1},
	StrategyQualityFirst: {cost: 0.1, quality: 0.7, reliability: 0.2},
	StrategyBalanced:     {cost: 0.3, quality: 0.3, speed: 0.2, reliability: 0.2},
}

const (
	// maxAlternatives caps the runners-up reported with a selection.
	maxAlternatives = 4
	// perKeyHistory bounds the outcome history kept per profile.
	perKeyHistory = 100
	// adaptiveWindow is how many recent outcomes steer adaptive scoring.
	adaptiveWindow = 10
	// targetTeacherRatio is the teacher share allocation prefers.
	targetTeacherRatio = 0.2
	// costEpsilon keeps ratios finite for free models.
	costEpsilon = 0.001
	// itemTokens approximates output tokens per item for per-item ceilings.
	itemTokens = 50
	// allocationSteps is the number of 5% teacher-share steps scanned.
	allocationSteps = 10
)

// Candidate is one scored profile.
type Candidate struct {
	Key      string   `json:"model"`
	Estimate Estimate `json:"estimate"`
	Score    float64  `json:"score"`
}

// Selection is the outcome of OptimizeModelSelection.
type Selection struct {
	Recommended       string        `json:"recommended_model"`
	EstimatedCost     float64       `json:"estimated_cost"`
	EstimatedQuality  float64       `json:"estimated_quality"`
	EstimatedTime     time.Duration `json:"estimated_time"`
	Alternatives      []Candidate   `json:"alternatives"`
	Strategy          Strategy      `json:"strategy_used"`
	BudgetUtilization float64       `json:"budget_utilization"`
}

// Allocation splits a request between a teacher and a student profile.
type Allocation struct {
	TeacherKey      string  `json:"teacher_model"`
	StudentKey      string  `json:"student_model"`
	TeacherQuantity int     `json:"teacher_quantity"`
	StudentQuantity int     `json:"student_quantity"`
	TeacherCost     float64 `json:"teacher_cost"`
	StudentCost     float64 `json:"student_cost"`
	TotalCost       float64 `json:"total_cost"`
	ExpectedQuality float64 `json:"expected_quality"`
	TeacherRatio    float64 `json:"teacher_ratio"`
	Efficiency      float64 `json:"efficiency_score"`
	Score           float64 `json:"score"`
}

// Outcome is one tracked run.
type Outcome struct {
	Key       string    `json:"model_key"`
	Cost      float64   `json:"actual_cost"`
	Quality   float64   `json:"actual_quality"`
	Timestamp time.Time `json:"timestamp"`
}

// Optimizer holds cost profiles and learns from tracked outcomes. Profiles
// are copied on read, so selection runs concurrently with tracking.
type Optimizer struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	history  map[string][]Outcome
	recent   []Outcome

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewOptimizer creates an Optimizer with no profiles.
func NewOptimizer() *Optimizer {
	return &Optimizer{
		profiles: make(map[string]Profile),
		history:  make(map[string][]Outcome),
		nowFunc:  time.Now,
	}
}

// Register adds or replaces the profile stored under key.
func (o *Optimizer) Register(key string, p Profile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p.LastUpdated.IsZero() {
		p.LastUpdated = o.nowFunc()
	}
	o.profiles[key] = p
	zap.L().Debug("cost: registered profile", zap.String("key", key), zap.String("model", p.Model))
}

// Profile returns a copy of the profile under key.
func (o *Optimizer) Profile(key string) (Profile, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.profiles[key]
	return p, ok
}

// Profiles returns a snapshot of every profile.
func (o *Optimizer) Profiles() map[string]Profile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]Profile, len(o.profiles))
	for k, p := range o.profiles {
		out[k] = p
	}
	return out
}

// History returns the tracked outcomes for key, oldest first.
func (o *Optimizer) History(key string) []Outcome {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Outcome(nil), o.history[key]...)
}

// Estimate projects the cost of req on the profile under key.
func (o *Optimizer) Estimate(req model.GenerationRequest, key string) (Estimate, error) {
	p, ok := o.Profile(key)
	if !ok {
		return Estimate{}, eris.Errorf("cost: unknown profile %q", key)
	}
	return estimate(req, p), nil
}

// OptimizeModelSelection scores every profile that fits budget under
// strategy and returns the best with up to four alternatives.
func (o *Optimizer) OptimizeModelSelection(req model.GenerationRequest, budget Budget, strategy Strategy) (*Selection, error) {
	if strategy == "" {
		strategy = StrategyBalanced
	}
	profiles, recent := o.snapshot()

	keys := sortedKeys(profiles)
	rejections := make(map[string]string)
	var candidates []Candidate
	for _, key := range keys {
		est := estimate(req, profiles[key])
		if reason := budget.rejects(est); reason != "" {
			rejections[key] = reason
			continue
		}
		candidates = append(candidates, Candidate{Key: key, Estimate: est})
	}
	if len(candidates) == 0 {
		return nil, &NoViableProviderError{Evaluated: len(keys), Rejections: rejections}
	}

	score(candidates, strategy, recent)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	best := candidates[0]
	sel := &Selection{
		Recommended:      best.Key,
		EstimatedCost:    best.Estimate.Cost,
		EstimatedQuality: best.Estimate.QualityExpectation,
		EstimatedTime:    best.Estimate.Time,
		Alternatives:     append([]Candidate(nil), candidates[1:min(len(candidates), 1+maxAlternatives)]...),
		Strategy:         strategy,
	}
	if budget.Total > 0 {
		sel.BudgetUtilization = best.Estimate.Cost / budget.Total
	}

	zap.L().Info("cost: model selected",
		zap.String("recommended", sel.Recommended),
		zap.String("strategy", string(strategy)),
		zap.Float64("estimated_cost", sel.EstimatedCost),
		zap.Int("candidates", len(candidates)),
	)
	return sel, nil
}

// score fills Score for each candidate. Cost and speed are normalized so
// the cheapest and fastest candidates score 1.
func score(candidates []Candidate, strategy Strategy, recent []Outcome) {
	if strategy == StrategyAdaptive {
		adaptiveScore(candidates, recent)
		return
	}

	var maxCost, maxSpeed float64
	for _, c := range candidates {
		maxCost = max(maxCost, 1/(c.Estimate.Cost+costEpsilon))
		maxSpeed = max(maxSpeed, 1/(c.Estimate.Time.Minutes()+costEpsilon))
	}

	w := strategyWeights[strategy]
	for i := range candidates {
		e := candidates[i].Estimate
		costScore := 1 / (e.Cost + costEpsilon) / maxCost
		speedScore := 1 / (e.Time.Minutes() + costEpsilon) / maxSpeed
		candidates[i].Score = w.cost*costScore + w.quality*e.QualityExpectation +
			w.speed*speedScore + w.reliability*e.Confidence
	}
}

// adaptiveScore ranks by quality per dollar, tilted toward quality after a
// run of poor outcomes or toward cost after expensive ones.
func adaptiveScore(candidates []Candidate, recent []Outcome) {
	var tiltQuality, tiltCost bool
	if len(recent) >= adaptiveWindow {
		window := recent[len(recent)-adaptiveWindow:]
		costs := make([]float64, len(window))
		var sumQ, sumC float64
		for i, r := range window {
			sumQ += r.Quality
			sumC += r.Cost
			costs[i] = r.Cost
		}
		avgQ, avgC := sumQ/float64(len(window)), sumC/float64(len(window))
		switch {
		case avgQ < 0.7:
			tiltQuality = true
		case avgC > percentile(costs, 75):
			tiltCost = true
		}
	}

	var top float64
	for i := range candidates {
		e := candidates[i].Estimate
		s := e.QualityExpectation / (e.Cost + costEpsilon)
		switch {
		case tiltQuality:
			s *= 1 + e.QualityExpectation
		case tiltCost:
			s *= 1 + 1/(e.Cost+costEpsilon)
		}
		candidates[i].Score = s
		top = max(top, s)
	}
	if top > 0 {
		for i := range candidates {
			candidates[i].Score /= top
		}
	}
}

// OptimizeTeacherStudentAllocation scans teacher shares from 5% to 50% and
// returns the split with the best quality per dollar near a 20% share.
// The returned TotalCost never exceeds a positive budget.Total.
func (o *Optimizer) OptimizeTeacherStudentAllocation(req model.GenerationRequest, budget Budget) (*Allocation, error) {
	profiles, _ := o.snapshot()
	if len(profiles) == 0 {
		return nil, &NoViableAllocationError{Reasons: []string{"no profiles registered"}}
	}
	teacherKey := bestTeacher(profiles)
	studentKey := bestStudent(profiles)
	threshold := req.QualityThreshold

	var (
		best    *Allocation
		reasons []string
		tried   int
	)
	for step := 1; step <= allocationSteps; step++ {
		ratio := float64(step) / 20
		tried++

		teacherQty := req.Quantity * step / 20
		studentQty := req.Quantity - teacherQty
		tEst := estimate(req.WithQuantity(teacherQty), profiles[teacherKey])
		sEst := estimate(req.WithQuantity(studentQty), profiles[studentKey])
		total := tEst.Cost + sEst.Cost

		if budget.Total > 0 && total > budget.Total {
			reasons = append(reasons, formatReason(ratio, "total cost %.4f exceeds budget %.4f", total, budget.Total))
			continue
		}
		quality := tEst.QualityExpectation*ratio + sEst.QualityExpectation*(1-ratio)
		if quality < threshold {
			reasons = append(reasons, formatReason(ratio, "expected quality %.3f below threshold %.3f", quality, threshold))
			continue
		}

		efficiency := quality / max(total, costEpsilon)
		s := efficiency * (1 - math.Abs(ratio-targetTeacherRatio))
		if best == nil || s > best.Score {
			best = &Allocation{
				TeacherKey:      teacherKey,
				StudentKey:      studentKey,
				TeacherQuantity: teacherQty,
				StudentQuantity: studentQty,
				TeacherCost:     tEst.Cost,
				StudentCost:     sEst.Cost,
				TotalCost:       total,
				ExpectedQuality: quality,
				TeacherRatio:    ratio,
				Efficiency:      efficiency,
				Score:           s,
			}
		}
	}
	if best == nil {
		return nil, &NoViableAllocationError{RatiosTried: tried, Reasons: reasons}
	}
	return best, nil
}

// TrackActualPerformance folds an observed run into the profile under key:
// quality moves 10% toward the observation and reliability earns credit
// for completion.
func (o *Optimizer) TrackActualPerformance(key string, cost, quality float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.profiles[key]
	if !ok {
		return eris.Errorf("cost: unknown profile %q", key)
	}
	now := o.nowFunc()
	p.QualityRating = 0.9*p.QualityRating + 0.1*quality
	p.ReliabilityRating = 0.95*p.ReliabilityRating + 0.05
	p.LastUpdated = now
	o.profiles[key] = p

	rec := Outcome{Key: key, Cost: cost, Quality: quality, Timestamp: now}
	h := append(o.history[key], rec)
	if len(h) > perKeyHistory {
		h = h[len(h)-perKeyHistory:]
	}
	o.history[key] = h

	o.recent = append(o.recent, rec)
	if len(o.recent) > perKeyHistory {
		o.recent = o.recent[len(o.recent)-perKeyHistory:]
	}
	return nil
}

func (o *Optimizer) snapshot() (map[string]Profile, []Outcome) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	profiles := make(map[string]Profile, len(o.profiles))
	for k, p := range o.profiles {
		profiles[k] = p
	}
	return profiles, append([]Outcome(nil), o.recent...)
}

// bestTeacher picks the highest-quality teacher-eligible profile rated
// above 0.8, falling back to the first eligible key.
func bestTeacher(profiles map[string]Profile) string {
	keys := eligible(profiles, RoleTeacher)
	best, bestQ := "", 0.0
	for _, k := range keys {
		if q := profiles[k].QualityRating; q > 0.8 && q > bestQ {
			best, bestQ = k, q
		}
	}
	if best == "" {
		return keys[0]
	}
	return best
}

// bestStudent picks the cheapest student-eligible profile with an input
// rate under 0.01, falling back to the first eligible key.
func bestStudent(profiles map[string]Profile) string {
	keys := eligible(profiles, RoleStudent)
	best, bestCost := "", math.Inf(1)
	for _, k := range keys {
		if c := profiles[k].InputCostPer1K; c < 0.01 && c < bestCost {
			best, bestCost = k, c
		}
	}
	if best == "" {
		return keys[0]
	}
	return best
}

// eligible lists keys whose profile carries role, or every key when none
// does.
func eligible(profiles map[string]Profile, role string) []string {
	var keys []string
	for _, k := range sortedKeys(profiles) {
		if profiles[k].Role == role {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return sortedKeys(profiles)
	}
	return keys
}

func sortedKeys(profiles map[string]Profile) []string {
	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// percentile returns the p-th percentile of values with linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
