package cost

import (
	"fmt"
	"sync"
	"time"

	"github.com/sells-group/distill-cli/internal/config"
)

// Violation types.
const (
	TotalBudgetExceeded  = "total_budget_exceeded"
	DailyBudgetExceeded  = "daily_budget_exceeded"
	HourlyBudgetExceeded = "hourly_budget_exceeded"
)

const (
	dayKey  = "2006-01-02"
	hourKey = "2006-01-02 15"
)

// Budget holds spending ceilings in USD. A zero field disables that
// ceiling.
type Budget struct {
	Total               float64 `json:"total_budget"`
	Daily               float64 `json:"daily_budget,omitempty"`
	Hourly              float64 `json:"hourly_budget,omitempty"`
	PerItem             float64 `json:"cost_per_item_limit,omitempty"`
	QualityCostRatioMin float64 `json:"quality_cost_ratio_min,omitempty"`
}

// BudgetFromConfig converts the configured ceilings.
func BudgetFromConfig(c config.BudgetConfig) Budget {
	return Budget{
		Total:               c.Total,
		Daily:               c.Daily,
		Hourly:              c.Hourly,
		PerItem:             c.PerItem,
		QualityCostRatioMin: c.QualityCostRatioMin,
	}
}

// rejects returns why est does not fit b, or "" when it does.
func (b Budget) rejects(est Estimate) string {
	if b.Total > 0 && est.Cost > b.Total {
		return fmt.Sprintf("cost %.4f exceeds total budget %.4f", est.Cost, b.Total)
	}
	if b.PerItem > 0 {
		items := max(1, est.OutputTokens/itemTokens)
		if perItem := est.Cost / float64(items); perItem > b.PerItem {
			return fmt.Sprintf("cost per item %.5f exceeds limit %.5f", perItem, b.PerItem)
		}
	}
	if b.QualityCostRatioMin > 0 {
		if ratio := est.QualityExpectation / max(costEpsilon, est.Cost); ratio < b.QualityCostRatioMin {
			return fmt.Sprintf("quality/cost ratio %.2f below minimum %.2f", ratio, b.QualityCostRatioMin)
		}
	}
	return ""
}

func formatReason(ratio float64, format string, args ...any) string {
	return fmt.Sprintf("teacher ratio %.2f: ", ratio) + fmt.Sprintf(format, args...)
}

// Violation is one ceiling an additional spend would break.
type Violation struct {
	Type       string  `json:"type"`
	Current    float64 `json:"current"`
	Limit      float64 `json:"limit"`
	Additional float64 `json:"additional"`
}

// BudgetStatus is the result of a budget check. RemainingTotal and
// Utilization are zero when no total ceiling is set.
type BudgetStatus struct {
	WithinBudget   bool        `json:"within_budget"`
	Violations     []Violation `json:"issues"`
	RemainingTotal float64     `json:"remaining_total"`
	Utilization    float64     `json:"utilization"`
}

// SpendingReport summarizes daily spend over a trailing period.
type SpendingReport struct {
	Period       string             `json:"period"`
	Daily        map[string]float64 `json:"daily_spending"`
	PeriodTotal  float64            `json:"total_period_spending"`
	DailyAverage float64            `json:"average_daily_spending"`
	AllTime      float64            `json:"total_all_time"`
}

// BudgetTracker accumulates spend by day, hour and all time.
type BudgetTracker struct {
	mu     sync.RWMutex
	total  float64
	daily  map[string]float64
	hourly map[string]float64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBudgetTracker creates a tracker with no spend.
func NewBudgetTracker() *BudgetTracker {
	return &BudgetTracker{
		daily:   make(map[string]float64),
		hourly:  make(map[string]float64),
		nowFunc: time.Now,
	}
}

// TrackSpending commits amount at ts. A zero ts means now.
func (t *BudgetTracker) TrackSpending(amount float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.IsZero() {
		ts = t.nowFunc()
	}
	t.total += amount
	t.daily[ts.Format(dayKey)] += amount
	t.hourly[ts.Format(hourKey)] += amount
}

// Total returns all-time spend.
func (t *BudgetTracker) Total() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// CheckBudgetConstraints reports which ceilings spending additional more
// would break. It never changes tracked state.
func (t *BudgetTracker) CheckBudgetConstraints(b Budget, additional float64) BudgetStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.nowFunc()
	var violations []Violation
	if b.Total > 0 && t.total+additional > b.Total {
		violations = append(violations, Violation{Type: TotalBudgetExceeded, Current: t.total, Limit: b.Total, Additional: additional})
	}
	if b.Daily > 0 {
		spent := t.daily[now.Format(dayKey)]
		if spent+additional > b.Daily {
			violations = append(violations, Violation{Type: DailyBudgetExceeded, Current: spent, Limit: b.Daily, Additional: additional})
		}
	}
	if b.Hourly > 0 {
		spent := t.hourly[now.Format(hourKey)]
		if spent+additional > b.Hourly {
			violations = append(violations, Violation{Type: HourlyBudgetExceeded, Current: spent, Limit: b.Hourly, Additional: additional})
		}
	}

	status := BudgetStatus{
		WithinBudget: len(violations) == 0,
		Violations:   violations,
	}
	if b.Total > 0 {
		status.RemainingTotal = b.Total - t.total
		status.Utilization = t.total / b.Total
	}
	return status
}

// SpendingReport covers the last days calendar days, today included.
func (t *BudgetTracker) SpendingReport(days int) SpendingReport {
	if days <= 0 {
		days = 7
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.nowFunc()
	r := SpendingReport{
		Period:  fmt.Sprintf("last_%d_days", days),
		Daily:   make(map[string]float64, days),
		AllTime: t.total,
	}
	for i := days - 1; i >= 0; i-- {
		key := now.AddDate(0, 0, -i).Format(dayKey)
		r.Daily[key] = t.daily[key]
		r.PeriodTotal += t.daily[key]
	}
	r.DailyAverage = r.PeriodTotal / float64(days)
	return r
}
