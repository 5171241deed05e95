// Package foreman is the orchestration loop binding Depot, Refinery,
// Dispatch, the Assayer pipeline, and Polecat adapters together (spec §4.5).
// It wakes on a schedulable bead, a deferred wake-time, or a periodic
// refresh, and drains the Depot's next_schedulable queue one bead at a time
// per admissible provider.
package foreman

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/depot"
	"github.com/jordanhubbard/rigs/internal/dispatch"
	"github.com/jordanhubbard/rigs/internal/metrics"
	"github.com/jordanhubbard/rigs/internal/polecat"
	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// Config is the Foreman's tunable knobs, sourced from pkg/config.GeneralConfig
// plus the routing affinity matrix and provider enumeration order.
type Config struct {
	Strategy      models.Strategy
	Affinity      dispatch.AffinityMatrix
	ProviderOrder []models.Provider

	RefreshInterval time.Duration
	IdlePoll        time.Duration
	WorkerTimeout   time.Duration
	MaxRetries      int
	ShutdownGrace   time.Duration
}

// Foreman owns the schedule loop. A single logical worker runs per
// provider: dispatchOne never hands a second bead to a provider already
// marked busy, so execution is sequential per provider without needing a
// dedicated long-lived goroutine per provider (spec §9 Open Question 3).
type Foreman struct {
	cfg      Config
	depot    *depot.Depot
	refinery *refinery.Refinery
	polecats *polecat.Registry
	assayer  *assayer.Pipeline
	fetchers map[models.Provider]refinery.RefreshFunc
	metrics  *metrics.Collectors // nil disables the periodic Prometheus sample
	store    *storage.Store      // nil disables the completions audit trail

	mu      sync.Mutex
	busy    map[models.Provider]bool
	cancels map[string]context.CancelFunc // beadID -> in-flight cancel

	wake chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Foreman. fetchers may be nil or partial; providers with
// no fetcher are simply skipped on refresh_all. collectors may be nil, in
// which case the Foreman never samples Prometheus gauges. store may be
// nil, in which case completed/failed beads are never recorded to the
// completions audit table.
func New(cfg Config, d *depot.Depot, r *refinery.Refinery, reg *polecat.Registry, a *assayer.Pipeline, fetchers map[models.Provider]refinery.RefreshFunc, collectors *metrics.Collectors, store *storage.Store) *Foreman {
	return &Foreman{
		cfg:      cfg,
		depot:    d,
		refinery: r,
		polecats: reg,
		assayer:  a,
		fetchers: fetchers,
		metrics:  collectors,
		store:    store,
		busy:     make(map[models.Provider]bool),
		cancels:  make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
	}
}

// Wake signals the loop that a bead may have become schedulable, coalescing
// with any already-pending wake.
func (f *Foreman) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run drives the wait-wake loop until ctx is cancelled, at which point it
// stops dispatching new work, gives in-flight Polecats ShutdownGrace to
// finish, then force-cancels whatever remains.
func (f *Foreman) Run(ctx context.Context) error {
	refresh := time.NewTicker(f.cfg.RefreshInterval)
	defer refresh.Stop()
	idle := time.NewTicker(f.cfg.IdlePoll)
	defer idle.Stop()

	f.tick(ctx) // drain whatever is already schedulable before waiting

	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return ctx.Err()
		case <-refresh.C:
			if errs := f.refinery.RefreshAll(ctx, f.fetchers, time.Now()); len(errs) > 0 {
				for p, err := range errs {
					log.Printf("foreman: refresh_all: %s: %v", p, err)
				}
			}
		case <-idle.C:
		case <-f.wake:
		}
		f.tick(ctx)
	}
}

// tick promotes ready deferrals then dispatches schedulable beads until
// either the queue is empty or dispatch makes no further progress this
// round (insufficient capacity race, every candidate busy, or a defer).
func (f *Foreman) tick(ctx context.Context) {
	now := time.Now()
	if n, err := f.depot.PromoteReady(ctx, now); err != nil {
		log.Printf("foreman: promote_ready: %v", err)
	} else if n > 0 {
		log.Printf("foreman: promoted %d deferred bead(s) to queued", n)
	}

	for {
		bead, ok := f.depot.NextSchedulable()
		if !ok {
			break
		}
		if !f.dispatchOne(ctx, bead) {
			break
		}
	}

	f.sampleMetrics()
}

// sampleMetrics feeds the current Refinery/Depot state into the Prometheus
// collectors once per tick. A no-op when rigsd was started without a
// metrics registry.
func (f *Foreman) sampleMetrics() {
	if f.metrics == nil {
		return
	}
	for _, tank := range f.refinery.AllTanks() {
		f.metrics.ObserveTank(tank)
	}
	f.metrics.SetReservationsOutstanding(f.refinery.ReservationsOutstanding())
	f.metrics.SetBeadsByStatus(f.depot.CountByStatus())
}

// dispatchOne attempts to route and assign one bead. It returns false when
// no further progress is possible this tick (the caller should stop
// draining rather than spin on the same candidate).
func (f *Foreman) dispatchOne(ctx context.Context, bead *models.Bead) bool {
	order := f.availableProviders()
	if len(order) == 0 {
		return false
	}

	decision := dispatch.Route(dispatch.Input{
		EstimatedTokens:   float64(bead.EstimatedTokens),
		TaskType:          bead.TaskType,
		PreferredProvider: bead.PreferredProvider,
		Strategy:          f.cfg.Strategy,
		Affinity:          f.cfg.Affinity,
		ProviderOrder:     order,
	}, f.refinery.Snapshot(time.Now()), time.Now())

	if decision.Kind == dispatch.KindDefer {
		return f.handleDefer(ctx, bead, decision)
	}

	res, err := f.refinery.Reserve(decision.Provider, float64(bead.EstimatedTokens), time.Now())
	if err != nil {
		// A concurrent reservation won the race between Snapshot and Reserve.
		// The bead is untouched (still Queued); stop draining this tick and
		// let the next tick re-evaluate with fresh capacity (spec §8
		// scenario 5).
		log.Printf("foreman: reserve race for bead %s on %s: %v", bead.ID, decision.Provider, err)
		return false
	}

	f.setBusy(decision.Provider, true)

	if err := f.depot.Mark(ctx, bead.ID, models.BeadAssigned, func(b *models.Bead) {
		b.AssignedProvider = &decision.Provider
		b.CircuitTrippedProviders = decision.TrippedProviders
	}); err != nil {
		log.Printf("foreman: assign bead %s: %v", bead.ID, err)
		_ = f.refinery.Release(res, time.Now())
		f.setBusy(decision.Provider, false)
		return false
	}

	f.wg.Add(1)
	go f.runBead(bead.ID, decision.Provider, res)
	return true
}

// handleDefer persists the dispatch decision's defer instruction. An
// unsatisfiable estimate (no provider could ever admit it) is deferred with
// no real wake time: deferred_until is set to a far-future sentinel
// (9999-12-31 UTC) so promote_ready never wakes it, and the bead's error
// records why, for operator attention.
func (f *Foreman) handleDefer(ctx context.Context, bead *models.Bead, decision dispatch.Decision) bool {
	if decision.Unsatisfiable {
		never := time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
		err := f.depot.Mark(ctx, bead.ID, models.BeadDeferred, func(b *models.Bead) {
			b.DeferredUntil = &never
			b.Error = fmt.Sprintf("estimated_tokens %d exceeds every provider's capacity", bead.EstimatedTokens)
		})
		if err != nil {
			log.Printf("foreman: defer unsatisfiable bead %s: %v", bead.ID, err)
			return false
		}
		return true
	}
	if err := f.depot.Defer(ctx, bead.ID, decision.WakeAt); err != nil {
		log.Printf("foreman: defer bead %s: %v", bead.ID, err)
		return false
	}
	return true
}

// availableProviders is cfg.ProviderOrder minus providers currently busy
// with another bead (sequential-per-provider execution).
func (f *Foreman) availableProviders() []models.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Provider, 0, len(f.cfg.ProviderOrder))
	for _, p := range f.cfg.ProviderOrder {
		if !f.busy[p] {
			out = append(out, p)
		}
	}
	return out
}

func (f *Foreman) setBusy(p models.Provider, busy bool) {
	f.mu.Lock()
	f.busy[p] = busy
	f.mu.Unlock()
}

func (f *Foreman) registerCancel(beadID string, cancel context.CancelFunc) {
	f.mu.Lock()
	f.cancels[beadID] = cancel
	f.mu.Unlock()
}

func (f *Foreman) unregisterCancel(beadID string) {
	f.mu.Lock()
	delete(f.cancels, beadID)
	f.mu.Unlock()
}

// shutdown waits ShutdownGrace for in-flight Polecats to finish on their
// own, then cancels whatever remains. Each runBead's own error handling
// persists the bead to Queued/Deferred/Failed as appropriate when its
// context is cancelled (classified as Timeout, per §7). Recover is the
// backstop for anything that still didn't make it through that path.
func (f *Foreman) shutdown() {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(f.cfg.ShutdownGrace):
	}

	f.mu.Lock()
	for id, cancel := range f.cancels {
		log.Printf("foreman: shutdown grace elapsed, cancelling bead %s", id)
		cancel()
	}
	f.mu.Unlock()

	<-done
}
