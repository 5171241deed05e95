package depot

import "github.com/jordanhubbard/rigs/pkg/models"

// legalTransitions is the state machine of spec §4.4. Any transition not
// listed here is rejected by Mark.
var legalTransitions = map[models.BeadStatus][]models.BeadStatus{
	models.BeadPending:    {models.BeadOptimizing},
	models.BeadOptimizing: {models.BeadQueued, models.BeadFailed},
	models.BeadQueued:     {models.BeadAssigned, models.BeadDeferred, models.BeadCancelled},
	models.BeadDeferred:   {models.BeadQueued, models.BeadCancelled},
	models.BeadAssigned:   {models.BeadInProgress},
	// Queued is additionally reachable from InProgress: §7's transient-error
	// policy returns the bead to Queued while it increments the circuit
	// breaker, a path the table of §4.4 omits but the error-handling section
	// requires.
	models.BeadInProgress: {models.BeadReviewing, models.BeadDeferred, models.BeadFailed, models.BeadQueued},
	models.BeadReviewing:  {models.BeadCompleted, models.BeadQueued, models.BeadFailed},
}

func isLegalTransition(from, to models.BeadStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
