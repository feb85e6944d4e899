package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/distill-cli/internal/cost"
)

// UnknownPairError is returned when an explicitly requested teacher/student
// pair is not configured.
type UnknownPairError struct {
	Pair PairKey
}

func (e *UnknownPairError) Error() string {
	return fmt.Sprintf("pipeline: unknown pair %s", e.Pair)
}

// BudgetExceededError is returned when the estimated cost of a run would
// break a configured spending ceiling.
type BudgetExceededError struct {
	Estimated float64
	Status    cost.BudgetStatus
}

func (e *BudgetExceededError) Error() string {
	kinds := make([]string, len(e.Status.Violations))
	for i, v := range e.Status.Violations {
		kinds[i] = v.Type
	}
	return fmt.Sprintf("pipeline: estimated cost %.4f exceeds budget (%s)", e.Estimated, strings.Join(kinds, ", "))
}
