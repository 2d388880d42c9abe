package matching

import "fmt"

// InvalidStrategyError is raised when a field config names a comparator
// strategy that is not registered.
type InvalidStrategyError struct {
	Strategy string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("matching: unknown comparator strategy %q", e.Strategy)
}
