package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is the span over which per-minute limits are enforced.
const DefaultWindow = time.Minute

// SlidingWindow admits at most limit calls in any trailing window. Callers
// over the limit are suspended until the oldest admitted call ages out.
// golang.org/x/time/rate is a token bucket and admits bursts that a strict
// trailing-window count would reject, hence the timestamp list.
type SlidingWindow struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	stamps      []time.Time
	suspensions int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewSlidingWindow creates a limiter. A non-positive limit admits everything.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		nowFunc: time.Now,
	}
}

// Wait blocks until the call may proceed or ctx is done.
func (w *SlidingWindow) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.nowFunc()
		w.prune(now)
		if w.limit <= 0 || len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}
		delay := w.stamps[0].Add(w.window).Sub(now)
		w.suspensions++
		w.mu.Unlock()

		zap.L().Debug("rate limit wait",
			zap.Int("limit", w.limit),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Suspensions returns how many times a caller had to wait.
func (w *SlidingWindow) Suspensions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspensions
}

// InFlight returns the number of admissions inside the current window.
func (w *SlidingWindow) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFunc())
	return len(w.stamps)
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
