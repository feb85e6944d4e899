package provider

import (
	"fmt"

	"github.com/sells-group/distill-cli/internal/resilience"
)

// ProviderError reports a failed call: a transport failure (Status 0) or a
// non-success response from the vendor.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Body     string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (%s): status %d: %s", e.Provider, e.Model, e.Status, e.Body)
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether a caller-side retry could succeed.
func (e *ProviderError) Transient() bool {
	if e.Status > 0 {
		return resilience.IsTransientHTTPStatus(e.Status)
	}
	return resilience.IsTransient(e.Err)
}
