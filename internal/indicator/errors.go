package indicator

import "fmt"

// InsufficientDataError reports that a window does not yet hold enough bars
// for a calculation. Callers treat it as "wait for more data", not failure.
type InsufficientDataError struct {
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d bars, have %d", e.Need, e.Have)
}

func errInsufficient(need, have int) error {
	return &InsufficientDataError{Need: need, Have: have}
}
