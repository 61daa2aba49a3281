package devin

import (
	"fmt"
	"time"
)

// APIError is returned when the remote API rejects a request or retries are
// exhausted. Status carries the last HTTP status observed; 0 means the
// failure was network-level with no HTTP response at all.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("devin api unreachable: %s", e.Message)
	}
	return fmt.Sprintf("devin api status %d: %s", e.Status, e.Message)
}

// CircuitOpenError is returned when the circuit breaker short-circuits a
// call without touching the network.
type CircuitOpenError struct {
	Cooldown time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.Cooldown)
}
