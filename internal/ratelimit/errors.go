package ratelimit

import "fmt"

// ConcurrencyLimitError is the admission outcome when the tier's running-set
// is full. A normal outcome, not a fault: the caller translates it to 429.
type ConcurrencyLimitError struct {
	Tier  Tier
	Limit int
}

// Error implements the error interface.
func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("%s concurrency limit reached, max allowed %d", e.Tier, e.Limit)
}

// CooldownActiveError is the admission outcome when the user is inside a
// cooldown window. Carries the tier that triggered the cooldown plus the
// total and remaining window in seconds.
type CooldownActiveError struct {
	Tier             Tier
	TotalSeconds     int64
	RemainingSeconds int64
}

// Error implements the error interface.
func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active for %d more of %d seconds (triggered by %s)",
		e.RemainingSeconds, e.TotalSeconds, e.Tier)
}
