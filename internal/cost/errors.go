package cost

import (
	"fmt"
	"sort"
	"strings"
)

// NoViableProviderError reports that every profile failed the budget.
type NoViableProviderError struct {
	Evaluated  int
	Rejections map[string]string
}

func (e *NoViableProviderError) Error() string {
	if len(e.Rejections) == 0 {
		return fmt.Sprintf("cost: no viable provider among %d evaluated", e.Evaluated)
	}
	keys := make([]string, 0, len(e.Rejections))
	for k := range e.Rejections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Rejections[k]
	}
	return fmt.Sprintf("cost: no viable provider among %d evaluated (%s)", e.Evaluated, strings.Join(parts, "; "))
}

// NoViableAllocationError reports that no teacher ratio met the budget and
// quality threshold.
type NoViableAllocationError struct {
	RatiosTried int
	Reasons     []string
}

func (e *NoViableAllocationError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("cost: no viable allocation across %d ratios", e.RatiosTried)
	}
	return fmt.Sprintf("cost: no viable allocation across %d ratios: %s", e.RatiosTried, e.Reasons[len(e.Reasons)-1])
}
