package refinery

import (
	"time"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// DefaultCircuitThreshold is the number of consecutive non-rate-limit
// errors after which a provider's circuit opens.
const DefaultCircuitThreshold = 3

var backoffSteps = []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}

func backoffFor(failures int) time.Duration {
	idx := failures - DefaultCircuitThreshold
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSteps) {
		idx = len(backoffSteps) - 1
	}
	return backoffSteps[idx]
}

// circuitRecordSuccess clears the breaker entirely, per §5: "a successful
// call clears the breaker."
func circuitRecordSuccess(t *models.Tank) {
	t.ConsecutiveFailures = 0
	t.CircuitState = models.CircuitClosed
	t.CircuitOpenedAt = nil
	t.CircuitBackoff = 0
}

// circuitRecordFailure increments the consecutive-failure count and opens
// the circuit once it reaches DefaultCircuitThreshold.
func circuitRecordFailure(t *models.Tank, now time.Time) {
	t.ConsecutiveFailures++
	if t.ConsecutiveFailures >= DefaultCircuitThreshold {
		t.CircuitState = models.CircuitOpen
		opened := now
		t.CircuitOpenedAt = &opened
		t.CircuitBackoff = backoffFor(t.ConsecutiveFailures)
	}
}

// circuitCanAttempt reports whether Dispatch may currently route to this
// tank's provider: Closed always can; Open can once its backoff has
// elapsed (transitioning to HalfOpen for a single trial); HalfOpen can
// (the trial itself).
func circuitCanAttempt(t *models.Tank, now time.Time) bool {
	switch t.CircuitState {
	case models.CircuitClosed:
		return true
	case models.CircuitHalfOpen:
		return true
	case models.CircuitOpen:
		if t.CircuitOpenedAt == nil {
			return true
		}
		if now.Sub(*t.CircuitOpenedAt) >= t.CircuitBackoff {
			t.CircuitState = models.CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}
