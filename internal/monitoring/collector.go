// Package monitoring summarizes recent distillation runs and raises alerts
// when failure rate, spend or quality drift past configured thresholds.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/store"
)

// Model ranking states.
const (
	StatusNoData    = "no_data"
	StatusOptimized = "optimized"
)

const (
	// maxRuns bounds how many runs one collection reads.
	maxRuns = 10000
	// costEpsilon keeps efficiency finite for free runs.
	costEpsilon = 0.001
)

// ModelEfficiency ranks one teacher/student combination by quality per
// dollar across completed runs.
type ModelEfficiency struct {
	Model       string  `json:"model"`
	AvgQuality  float64 `json:"avg_quality"`
	AvgCost     float64 `json:"avg_cost"`
	Efficiency  float64 `json:"efficiency"`
	SampleCount int     `json:"sample_count"`
}

// MetricsSnapshot holds a point-in-time view of distillation activity.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"total_requests"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	SuccessRate  float64 `json:"success_rate"`
	FailRate     float64 `json:"fail_rate"`
	CostUSD      float64 `json:"total_cost"`
	AvgCost      float64 `json:"average_cost_per_request"`
	AvgQuality   float64 `json:"average_quality"`
	AvgTokens    int     `json:"average_tokens"`

	ItemsGenerated  int `json:"data_generated"`
	TeacherItems    int `json:"teacher_items"`
	StudentItems    int `json:"student_items"`
	ThresholdMisses int `json:"threshold_misses"`

	Models    []ModelEfficiency `json:"model_performance"`
	BestModel string            `json:"best_model,omitempty"`
	Status    string            `json:"status"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect summarizes runs created within the last lookbackHours. A
// non-positive lookback covers every stored run.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		Status:        StatusNoData,
	}

	filter := store.RunFilter{Limit: maxRuns}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalQuality float64
	var totalTokens int
	byModel := make(map[string]*modelTotals)

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}
		resp := r.Response
		if resp == nil {
			continue
		}
		snap.CostUSD += resp.Cost
		totalQuality += resp.QualityScore
		totalTokens += resp.Metadata.TokensUsed
		snap.ItemsGenerated += len(resp.Data)
		snap.TeacherItems += resp.CountBySource(model.SourceTeacher)
		snap.StudentItems += resp.CountBySource(model.SourceStudent)
		if resp.QualityScore < r.Request.QualityThreshold {
			snap.ThresholdMisses++
		}

		name := resp.ModelUsed
		if name == "" {
			name = r.TeacherID + " + " + r.StudentID
		}
		mt := byModel[name]
		if mt == nil {
			mt = &modelTotals{}
			byModel[name] = mt
		}
		mt.quality += resp.QualityScore
		mt.cost += resp.Cost
		mt.n++
	}

	if snap.RunsTotal > 0 {
		snap.SuccessRate = float64(snap.RunsComplete) / float64(snap.RunsTotal)
		snap.AvgCost = snap.CostUSD / float64(snap.RunsTotal)
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgQuality = totalQuality / float64(snap.RunsComplete)
		snap.AvgTokens = totalTokens / snap.RunsComplete
	}

	snap.Models = rankModels(byModel)
	if len(snap.Models) > 0 {
		snap.BestModel = snap.Models[0].Model
		snap.Status = StatusOptimized
	}
	return snap, nil
}

type modelTotals struct {
	quality, cost float64
	n             int
}

// rankModels orders models by efficiency, best first, breaking ties by name.
func rankModels(byModel map[string]*modelTotals) []ModelEfficiency {
	out := make([]ModelEfficiency, 0, len(byModel))
	for name, mt := range byModel {
		q := mt.quality / float64(mt.n)
		c := mt.cost / float64(mt.n)
		out = append(out, ModelEfficiency{
			Model:       name,
			AvgQuality:  q,
			AvgCost:     c,
			Efficiency:  q / max(c, costEpsilon),
			SampleCount: mt.n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Efficiency != out[j].Efficiency {
			return out[i].Efficiency > out[j].Efficiency
		}
		return out[i].Model < out[j].Model
	})
	return out
}
