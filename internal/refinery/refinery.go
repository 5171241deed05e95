// Package refinery owns the set of provider Tanks: reservation, reconciliation,
// release, refresh, and circuit-breaker bookkeeping (spec §4.1, §5.3).
package refinery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// TankConfig is the static, operator-supplied shape of one provider's tank:
// window kind, capacity, and health thresholds. Populated from
// pkg/config.ProviderConfig.
type TankConfig struct {
	WindowKind      models.WindowKind
	Capacity        float64
	WindowHours     float64 // used when WindowKind == WindowRollingN
	YellowThreshold float64
	RedThreshold    float64
	RPM             float64 // 0 disables the secondary per-minute bucket
}

type trackedTank struct {
	tank   models.Tank
	cfg    TankConfig
	rpm    *rpmBucket // nil when cfg.RPM == 0
	resv   map[string]*Reservation
}

// Reservation is the handle returned by Reserve. Callers pass it back to
// Reconcile or Release.
type Reservation struct {
	ID              string
	Provider        models.Provider
	ReservedAmount  float64
	issuedWindowEnd time.Time // staleness check: refresh invalidates old reservations
}

// Refinery owns the full set of Tanks behind a single lock, per §5's
// "guarded by a single lock, granularity = whole Refinery" rule.
type Refinery struct {
	mu    sync.Mutex
	tanks map[models.Provider]*trackedTank
}

// New constructs a Refinery with one tank per entry in cfgs, all starting
// full as of now.
func New(cfgs map[models.Provider]TankConfig, now time.Time) *Refinery {
	r := &Refinery{tanks: make(map[models.Provider]*trackedTank, len(cfgs))}
	for p, cfg := range cfgs {
		r.tanks[p] = newTrackedTank(p, cfg, now)
	}
	return r
}

func newTrackedTank(p models.Provider, cfg TankConfig, now time.Time) *trackedTank {
	windowEnd := now
	switch cfg.WindowKind {
	case models.WindowFixedDaily:
		windowEnd = nextDailyBoundary(now)
	default:
		windowEnd = rollingWindowEnd(now, cfg.WindowHours)
	}

	tt := &trackedTank{
		cfg:  cfg,
		resv: make(map[string]*Reservation),
		tank: models.Tank{
			Provider:        p,
			WindowKind:      cfg.WindowKind,
			Capacity:        cfg.Capacity,
			Remaining:       cfg.Capacity,
			WindowStart:     now,
			WindowEnd:       windowEnd,
			WindowHours:     cfg.WindowHours,
			YellowThreshold: cfg.YellowThreshold,
			RedThreshold:    cfg.RedThreshold,
			RPM:             cfg.RPM,
			UpdatedAt:       now,
			CircuitState:    models.CircuitClosed,
		},
	}
	tt.tank.RecomputeHealth()
	if cfg.RPM > 0 {
		tt.rpm = newRPMBucket(cfg.RPM, now)
	}
	return tt
}

// rollWindowIfExpired applies T4: once wall-clock crosses window_end, reset
// before the next reservation is granted.
func (tt *trackedTank) rollWindowIfExpired(now time.Time) {
	if !windowExpired(now, tt.tank.WindowEnd) {
		return
	}
	tt.tank.Remaining = tt.tank.Capacity
	tt.tank.RequestsThisWindow = 0
	tt.tank.TokensThisWindow = 0
	tt.tank.WindowStart = now
	switch tt.cfg.WindowKind {
	case models.WindowFixedDaily:
		tt.tank.WindowEnd = nextDailyBoundary(now)
	default:
		tt.tank.WindowEnd = rollingWindowEnd(now, tt.cfg.WindowHours)
	}
	tt.tank.RecomputeHealth()
}

// Reserve atomically checks and decrements remaining by estimatedTokens,
// increments requests_this_window, and recomputes health (§4.1 step 1).
func (r *Refinery) Reserve(provider models.Provider, estimatedTokens float64, now time.Time) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tt, ok := r.tanks[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	tt.rollWindowIfExpired(now)

	if tt.tank.Remaining < estimatedTokens {
		return nil, ErrInsufficientCapacity
	}
	if tt.rpm != nil && !tt.rpm.tryConsume(now) {
		return nil, ErrInsufficientCapacity
	}

	tt.tank.Remaining -= estimatedTokens
	tt.tank.RequestsThisWindow++
	lastReq := now
	tt.tank.LastRequest = &lastReq
	tt.tank.UpdatedAt = now
	tt.tank.RecomputeHealth()

	res := &Reservation{
		ID:              uuid.NewString(),
		Provider:        provider,
		ReservedAmount:  estimatedTokens,
		issuedWindowEnd: tt.tank.WindowEnd,
	}
	tt.resv[res.ID] = res
	return res, nil
}

// Reconcile adds the actual usage to tokens_this_window and adjusts remaining
// by the estimate/actual delta (§4.1 step 2). A reservation invalidated by an intervening refresh
// still updates tokens_this_window for observability but is a no-op on
// remaining accounting.
func (r *Refinery) Reconcile(res *Reservation, actualTokens float64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tt, ok := r.tanks[res.Provider]
	if !ok {
		return ErrUnknownProvider
	}
	stored, ok := tt.resv[res.ID]
	if !ok {
		return ErrUnknownReservation
	}
	delete(tt.resv, res.ID)

	tt.tank.TokensThisWindow += int64(actualTokens)
	tt.tank.UpdatedAt = now

	if stored.issuedWindowEnd != tt.tank.WindowEnd {
		// A refresh happened since this reservation was issued; remaining
		// has already been overwritten with authoritative truth.
		return nil
	}

	delta := actualTokens - stored.ReservedAmount
	tt.tank.Remaining -= delta
	if tt.tank.Remaining < 0 {
		tt.tank.Remaining = 0
	}
	if tt.tank.Remaining > tt.tank.Capacity {
		tt.tank.Remaining = tt.tank.Capacity
	}
	tt.tank.RecomputeHealth()
	return nil
}

// Release restores remaining += reserved_amount for a worker failure with
// no tokens consumed (§4.1 step 3).
func (r *Refinery) Release(res *Reservation, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tt, ok := r.tanks[res.Provider]
	if !ok {
		return ErrUnknownProvider
	}
	stored, ok := tt.resv[res.ID]
	if !ok {
		return ErrUnknownReservation
	}
	delete(tt.resv, res.ID)

	if stored.issuedWindowEnd != tt.tank.WindowEnd {
		return nil
	}
	tt.tank.Remaining += stored.ReservedAmount
	if tt.tank.Remaining > tt.tank.Capacity {
		tt.tank.Remaining = tt.tank.Capacity
	}
	tt.tank.UpdatedAt = now
	tt.tank.RecomputeHealth()
	return nil
}

// RefreshFunc pulls authoritative tank state from a provider's side-channel.
type RefreshFunc func(ctx context.Context) (capacity, remaining float64, windowStart, windowEnd time.Time, err error)

// RefreshAll overwrites remaining/window_start/window_end/capacity with
// authoritative values per provider, discarding outstanding reservations'
// local accounting (§4.1 Refresh). Errors from individual fetchers are
// collected but do not stop other providers from refreshing.
func (r *Refinery) RefreshAll(ctx context.Context, fetchers map[models.Provider]RefreshFunc, now time.Time) map[models.Provider]error {
	errs := make(map[models.Provider]error)
	for provider, fetch := range fetchers {
		capacity, remaining, windowStart, windowEnd, err := fetch(ctx)
		if err != nil {
			errs[provider] = err
			continue
		}
		r.mu.Lock()
		tt, ok := r.tanks[provider]
		if ok {
			tt.tank.Capacity = capacity
			tt.tank.Remaining = remaining
			tt.tank.WindowStart = windowStart
			tt.tank.WindowEnd = windowEnd
			tt.tank.UpdatedAt = now
			tt.tank.RecomputeHealth()
			// Any reservation issued against the prior window is now stale.
			// Leave the handles in place so Reconcile/Release can still find
			// them and record tokens_this_window for observability; bumping
			// issuedWindowEnd makes the staleness branch fire so they skip
			// the remaining/capacity accounting refresh already overwrote.
			for _, stored := range tt.resv {
				stored.issuedWindowEnd = tt.tank.WindowEnd.Add(-1)
			}
		}
		r.mu.Unlock()
	}
	return errs
}

// RecordSuccess clears a provider's circuit breaker after a successful
// Polecat invocation.
func (r *Refinery) RecordSuccess(provider models.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tt, ok := r.tanks[provider]; ok {
		circuitRecordSuccess(&tt.tank)
	}
}

// RecordFailure registers a non-rate-limit provider failure against the
// circuit breaker, possibly opening it.
func (r *Refinery) RecordFailure(provider models.Provider, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tt, ok := r.tanks[provider]; ok {
		circuitRecordFailure(&tt.tank, now)
	}
}

// Tank returns a copy of the current tank state for one provider.
func (r *Refinery) Tank(provider models.Provider) (models.Tank, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tt, ok := r.tanks[provider]
	if !ok {
		return models.Tank{}, false
	}
	return tt.tank, true
}

// AllTanks returns a snapshot of every tracked tank, for operator
// introspection (GET /tanks) and the Prometheus collector.
func (r *Refinery) AllTanks() []models.Tank {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Tank, 0, len(r.tanks))
	for _, tt := range r.tanks {
		out = append(out, tt.tank)
	}
	return out
}

// ReservationsOutstanding returns the number of reservations issued but not
// yet reconciled or released, across every tank, for the Prometheus collector.
func (r *Refinery) ReservationsOutstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tt := range r.tanks {
		n += len(tt.resv)
	}
	return n
}
