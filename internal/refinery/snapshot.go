package refinery

import (
	"time"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// TankView is the read-only projection of one tank handed to Dispatch.
// Dispatch never sees a *Refinery or *trackedTank — only this snapshot —
// so that routing stays a pure function of its inputs.
type TankView struct {
	Provider models.Provider
	Capacity float64
	Remaining float64
	Ratio    float64
	Health   models.Health
	WindowEnd time.Time

	// CircuitAdmits is false when the provider's breaker is Open and its
	// backoff has not yet elapsed; Dispatch must exclude it regardless of
	// capacity.
	CircuitAdmits bool

	// RPMWaitUntil is how long until the next RPM-bucket slot frees up.
	// Zero when there is no RPM gate or one is available now.
	RPMWaitUntil time.Duration
}

// Snapshot is an immutable, point-in-time view of every tank, keyed by
// provider. Clone the minimum state Dispatch needs: no reservation
// internals, no mutex.
type Snapshot map[models.Provider]TankView

// Snapshot clones the minimal per-tank state needed for routing decisions,
// taking the Refinery's read path (a short critical section, per §5).
func (r *Refinery) Snapshot(now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(Snapshot, len(r.tanks))
	for p, tt := range r.tanks {
		tt.rollWindowIfExpired(now)

		view := TankView{
			Provider:      p,
			Capacity:      tt.tank.Capacity,
			Remaining:     tt.tank.Remaining,
			Ratio:         tt.tank.Ratio(),
			Health:        tt.tank.Health,
			WindowEnd:     tt.tank.WindowEnd,
			CircuitAdmits: circuitCanAttempt(&tt.tank, now),
		}
		if tt.rpm != nil {
			view.RPMWaitUntil = tt.rpm.timeUntil(now)
		}
		snap[p] = view
	}
	return snap
}
