package pipeline

import (
	"sync"
	"time"
)

// PairUsage accumulates the activity of one teacher/student pair.
type PairUsage struct {
	Requests int       `json:"requests"`
	Items    int       `json:"items"`
	Tokens   int       `json:"tokens"`
	Cost     float64   `json:"cost"`
	LastUsed time.Time `json:"last_used"`
}

// UsageReport is a snapshot of all tracked usage.
type UsageReport struct {
	Pairs         map[string]PairUsage `json:"pairs"`
	TotalRequests int                  `json:"total_requests"`
	TotalTokens   int                  `json:"total_tokens"`
	TotalCost     float64              `json:"total_cost"`
}

// UsageTracker records tokens, cost and request counts per pair.
type UsageTracker struct {
	mu    sync.Mutex
	pairs map[PairKey]PairUsage

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewUsageTracker creates an empty UsageTracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		pairs:   make(map[PairKey]PairUsage),
		nowFunc: time.Now,
	}
}

// Track adds one request's usage to pair.
func (u *UsageTracker) Track(pair PairKey, items, tokens int, cost float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	p := u.pairs[pair]
	p.Requests++
	p.Items += items
	p.Tokens += tokens
	p.Cost += cost
	p.LastUsed = u.nowFunc()
	u.pairs[pair] = p
}

// Usage returns the usage recorded for pair.
func (u *UsageTracker) Usage(pair PairKey) PairUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pairs[pair]
}

// Report returns totals and a per-pair breakdown keyed by PairKey.String.
func (u *UsageTracker) Report() UsageReport {
	u.mu.Lock()
	defer u.mu.Unlock()

	r := UsageReport{Pairs: make(map[string]PairUsage, len(u.pairs))}
	for k, p := range u.pairs {
		r.Pairs[k.String()] = p
		r.TotalRequests += p.Requests
		r.TotalTokens += p.Tokens
		r.TotalCost += p.Cost
	}
	return r
}
