package transfer

import (
	"sync"
	"time"
)

// TransferMetrics measures one transfer's effect on student quality.
type TransferMetrics struct {
	PatternsExtracted  int           `json:"patterns_extracted"`
	TransferAccuracy   float64       `json:"transfer_accuracy"`
	StudentImprovement float64       `json:"student_improvement"`
	CostReduction      float64       `json:"cost_reduction"`
	TimeToLearn        time.Duration `json:"time_to_learn"`
}

// Effectiveness aggregates all tracked transfers.
type Effectiveness struct {
	AverageImprovement  float64       `json:"average_improvement"`
	AveragePatterns     float64       `json:"average_patterns"`
	AverageTransferTime time.Duration `json:"average_transfer_time"`
	SuccessRate         float64       `json:"success_rate"`
}

// PerformanceTracker keeps transfer metrics and per-student quality curves.
type PerformanceTracker struct {
	mu      sync.RWMutex
	metrics []TransferMetrics
	curves  map[string][]float64
}

// NewPerformanceTracker creates an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{curves: make(map[string][]float64)}
}

// TrackTransfer records a transfer that moved quality from before to after.
// CostReduction is left at zero; usage tracking owns spend.
func (t *PerformanceTracker) TrackTransfer(before, after float64, patterns int, took time.Duration) TransferMetrics {
	m := TransferMetrics{
		PatternsExtracted:  patterns,
		TransferAccuracy:   after,
		StudentImprovement: after - before,
		TimeToLearn:        took,
	}
	t.mu.Lock()
	t.metrics = append(t.metrics, m)
	t.mu.Unlock()
	return m
}

// TrackStudent appends a quality observation for student.
func (t *PerformanceTracker) TrackStudent(student string, quality float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curves[student] = append(t.curves[student], quality)
}

// LearningCurve returns the quality history for student.
func (t *PerformanceTracker) LearningCurve(student string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.curves[student]...)
}

// Effectiveness averages tracked transfers. ok is false when none exist.
func (t *PerformanceTracker) Effectiveness() (eff Effectiveness, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.metrics) == 0 {
		return Effectiveness{}, false
	}

	var improvement, patterns float64
	var took time.Duration
	var wins int
	for _, m := range t.metrics {
		improvement += m.StudentImprovement
		patterns += float64(m.PatternsExtracted)
		took += m.TimeToLearn
		if m.StudentImprovement > 0 {
			wins++
		}
	}
	n := float64(len(t.metrics))
	return Effectiveness{
		AverageImprovement:  improvement / n,
		AveragePatterns:     patterns / n,
		AverageTransferTime: took / time.Duration(len(t.metrics)),
		SuccessRate:         float64(wins) / n,
	}, true
}
