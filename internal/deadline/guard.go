package deadline

import "time"

// DefaultMargin is the trailing slice of the budget reserved for persisting
// results before the platform kills the invocation.
const DefaultMargin = 30 * time.Second

// Guard tracks a wall-clock budget for one pipeline invocation. Once the
// remaining budget drops below the safety margin, no new model calls or
// verification rounds may start.
type Guard struct {
	deadline time.Time
	margin   time.Duration
	now      func() time.Time
}

// NewGuard starts a guard for the given total budget.
func NewGuard(budget, margin time.Duration) *Guard {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Guard{
		deadline: time.Now().Add(budget),
		margin:   margin,
		now:      time.Now,
	}
}

// Remaining returns the time left before the hard budget expires.
func (g *Guard) Remaining() time.Duration {
	return g.deadline.Sub(g.now())
}

// ShouldContinue reports whether enough budget remains to start another
// generation or verification step.
func (g *Guard) ShouldContinue() bool {
	return g.Remaining() > g.margin
}
