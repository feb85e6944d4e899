package cost

import (
	"slices"
	"sync"
	"time"
)

const (
	offPeakDiscount    = 0.1
	delaySavingsFloor  = 0.05
	pricingHistoryCap  = 1000
	minAnalysisRecords = 10
)

// Timing recommendations.
const (
	RecommendImmediate = "immediate"
	RecommendDelay     = "delay"
)

var peakHours = []int{9, 10, 11, 14, 15, 16}

// IsPeak reports whether hour falls in business peak hours.
func IsPeak(hour int) bool {
	return slices.Contains(peakHours, hour)
}

// TimingAdvice compares running now against waiting for off-peak.
type TimingAdvice struct {
	Peak           bool      `json:"peak"`
	ImmediateCost  float64   `json:"immediate_cost"`
	DelayedCost    float64   `json:"delayed_cost,omitempty"`
	Savings        float64   `json:"savings,omitempty"`
	NextOffPeak    time.Time `json:"next_optimal_time,omitempty"`
	Recommendation string    `json:"recommendation"`
}

// PricingRecord is one tracked execution.
type PricingRecord struct {
	At         time.Time `json:"execution_time"`
	Peak       bool      `json:"is_peak"`
	Cost       float64   `json:"cost"`
	Quality    float64   `json:"quality"`
	Efficiency float64   `json:"efficiency"`
}

// PeriodStats aggregates records from peak or off-peak hours.
type PeriodStats struct {
	AverageCost    float64 `json:"average_cost"`
	AverageQuality float64 `json:"average_quality"`
	Efficiency     float64 `json:"efficiency"`
	SampleSize     int     `json:"sample_size"`
}

// PricingAnalysis compares peak and off-peak executions.
type PricingAnalysis struct {
	Peak              PeriodStats `json:"peak_hours_analysis"`
	OffPeak           PeriodStats `json:"off_peak_analysis"`
	CostSavings       float64     `json:"cost_savings"`
	QualityDifference float64     `json:"quality_difference"`
	OptimalTiming     string      `json:"optimal_timing"`
}

// DynamicPricing projects off-peak savings and keeps a bounded execution
// history.
type DynamicPricing struct {
	mu      sync.Mutex
	history []PricingRecord

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewDynamicPricing creates a DynamicPricing.
func NewDynamicPricing() *DynamicPricing {
	return &DynamicPricing{nowFunc: time.Now}
}

// OptimalTiming advises whether a run costing estimatedCost should wait.
func (d *DynamicPricing) OptimalTiming(estimatedCost float64) TimingAdvice {
	now := d.nowFunc()
	if !IsPeak(now.Hour()) {
		return TimingAdvice{ImmediateCost: estimatedCost, Recommendation: RecommendImmediate}
	}

	delayed := estimatedCost * (1 - offPeakDiscount)
	savings := estimatedCost - delayed
	advice := TimingAdvice{
		Peak:           true,
		ImmediateCost:  estimatedCost,
		DelayedCost:    delayed,
		Savings:        savings,
		NextOffPeak:    nextOffPeak(now),
		Recommendation: RecommendImmediate,
	}
	if savings > estimatedCost*delaySavingsFloor {
		advice.Recommendation = RecommendDelay
	}
	return advice
}

func nextOffPeak(now time.Time) time.Time {
	base := now.Truncate(time.Hour)
	for h := 1; h < 24; h++ {
		if t := base.Add(time.Duration(h) * time.Hour); !IsPeak(t.Hour()) {
			return t
		}
	}
	y, m, day := now.AddDate(0, 0, 1).Date()
	return time.Date(y, m, day, 0, 0, 0, 0, now.Location())
}

// Track records an execution at the given time.
func (d *DynamicPricing) Track(at time.Time, cost, quality float64) {
	rec := PricingRecord{At: at, Peak: IsPeak(at.Hour()), Cost: cost, Quality: quality}
	if cost > 0 {
		rec.Efficiency = quality / cost
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, rec)
	if len(d.history) > pricingHistoryCap {
		d.history = d.history[len(d.history)-pricingHistoryCap:]
	}
}

// Len returns the number of retained records.
func (d *DynamicPricing) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

// Analyze compares peak and off-peak history. ok is false with fewer than
// ten records or when either period has none.
func (d *DynamicPricing) Analyze() (a PricingAnalysis, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) < minAnalysisRecords {
		return PricingAnalysis{}, false
	}

	var peak, off []PricingRecord
	for _, r := range d.history {
		if r.Peak {
			peak = append(peak, r)
		} else {
			off = append(off, r)
		}
	}
	if len(peak) == 0 || len(off) == 0 {
		return PricingAnalysis{}, false
	}

	a.Peak, a.OffPeak = stats(peak), stats(off)
	a.CostSavings = a.Peak.AverageCost - a.OffPeak.AverageCost
	a.QualityDifference = a.Peak.AverageQuality - a.OffPeak.AverageQuality
	a.OptimalTiming = "peak"
	if a.OffPeak.AverageCost < a.Peak.AverageCost {
		a.OptimalTiming = "off_peak"
	}
	return a, true
}

func stats(records []PricingRecord) PeriodStats {
	var cost, quality float64
	for _, r := range records {
		cost += r.Cost
		quality += r.Quality
	}
	n := float64(len(records))
	s := PeriodStats{AverageCost: cost / n, AverageQuality: quality / n, SampleSize: len(records)}
	if s.AverageCost > 0 {
		s.Efficiency = s.AverageQuality / s.AverageCost
	}
	return s
}
