package foreman

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/polecat"
	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// runBead carries one Assigned bead through Polecat execution to a terminal
// or retryable outcome. It always releases the busy slot and reservation it
// was handed, and always wakes the loop on exit so freed capacity is
// re-evaluated without waiting for the next idle poll.
func (f *Foreman) runBead(beadID string, provider models.Provider, res *refinery.Reservation) {
	defer f.wg.Done()
	defer f.setBusy(provider, false)
	defer f.Wake()

	bgCtx, cancel := context.WithTimeout(context.Background(), f.cfg.WorkerTimeout)
	f.registerCancel(beadID, cancel)
	defer f.unregisterCancel(beadID)
	defer cancel()

	ctx := context.Background() // Depot/Refinery calls must outlive a cancelled worker ctx

	bead, ok := f.depot.Get(beadID)
	if !ok {
		log.Printf("foreman: runBead: bead %s vanished before start", beadID)
		_ = f.refinery.Release(res, time.Now())
		return
	}

	if err := f.depot.Mark(ctx, beadID, models.BeadInProgress, func(b *models.Bead) {
		started := time.Now()
		b.StartedAt = &started
	}); err != nil {
		log.Printf("foreman: runBead: mark in_progress for %s: %v", beadID, err)
		_ = f.refinery.Release(res, time.Now())
		return
	}

	adapter, ok := f.polecats.Get(provider)
	if !ok {
		log.Printf("foreman: runBead: no adapter registered for %s", provider)
		f.failPermanent(ctx, beadID, res, fmt.Sprintf("no adapter registered for provider %s", provider))
		return
	}

	result, err := adapter.Execute(bgCtx, bead)
	if err != nil {
		f.handleExecuteError(ctx, beadID, provider, res, err)
		return
	}

	f.handleExecuteSuccess(ctx, beadID, provider, res, result)
}

func (f *Foreman) handleExecuteSuccess(ctx context.Context, beadID string, provider models.Provider, res *refinery.Reservation, result *polecat.Result) {
	if err := f.depot.Mark(ctx, beadID, models.BeadReviewing, func(b *models.Bead) {
		b.Output = result.Output
	}); err != nil {
		log.Printf("foreman: runBead: mark reviewing for %s: %v", beadID, err)
		_ = f.refinery.Release(res, time.Now())
		return
	}

	bead, ok := f.depot.Get(beadID)
	if !ok {
		_ = f.refinery.Release(res, time.Now())
		return
	}

	verdict, err := f.assayer.CheckQuality(ctx, bead, result.Output)
	if err != nil {
		log.Printf("foreman: runBead: quality_gate for %s: %v", beadID, err)
		f.failPermanent(ctx, beadID, res, err.Error())
		return
	}

	switch verdict.Kind {
	case assayer.Pass:
		now := time.Now()
		if err := f.refinery.Reconcile(res, float64(result.ActualTokens), now); err != nil {
			log.Printf("foreman: runBead: reconcile for %s: %v", beadID, err)
		}
		f.refinery.RecordSuccess(provider)
		actual := result.ActualTokens
		if err := f.depot.Mark(ctx, beadID, models.BeadCompleted, func(b *models.Bead) {
			b.ActualTokens = &actual
			b.CompletedAt = &now
		}); err != nil {
			log.Printf("foreman: runBead: mark completed for %s: %v", beadID, err)
		}
		f.recordCompletion(ctx, bead, provider, result, true, "", now)

	case assayer.NeedsRevision:
		now := time.Now()
		if err := f.refinery.Reconcile(res, float64(result.ActualTokens), now); err != nil {
			log.Printf("foreman: runBead: reconcile for %s: %v", beadID, err)
		}
		f.refinery.RecordSuccess(provider)
		f.recordCompletion(ctx, bead, provider, result, true, "needs_revision: "+verdict.Notes, now)
		f.retryOrFail(ctx, beadID, "needs_revision: "+verdict.Notes, func(b *models.Bead) {
			if err := f.assayer.Reestimate(ctx, b); err != nil {
				log.Printf("foreman: runBead: reestimate for %s: %v", beadID, err)
			}
		})

	case assayer.Fail:
		now := time.Now()
		if err := f.refinery.Reconcile(res, float64(result.ActualTokens), now); err != nil {
			log.Printf("foreman: runBead: reconcile for %s: %v", beadID, err)
		}
		f.refinery.RecordSuccess(provider)
		reason := fmt.Sprintf("quality_gate: %v", verdict.Reasons)
		if err := f.depot.Mark(ctx, beadID, models.BeadFailed, func(b *models.Bead) {
			b.Error = reason
		}); err != nil {
			log.Printf("foreman: runBead: mark failed for %s: %v", beadID, err)
		}
		f.recordCompletion(ctx, bead, provider, result, false, reason, now)
	}
}

// recordCompletion appends one row to the completions audit table (spec §6)
// for a bead that reached the quality gate. A no-op when rigsd was started
// without Postgres persistence.
func (f *Foreman) recordCompletion(ctx context.Context, bead *models.Bead, provider models.Provider, result *polecat.Result, success bool, errMsg string, completedAt time.Time) {
	if f.store == nil {
		return
	}
	if err := f.store.RecordCompletion(ctx, storage.Completion{
		ID:              uuid.NewString(),
		BeadID:          bead.ID,
		Provider:        provider,
		EstimatedTokens: bead.EstimatedTokens,
		ActualTokens:    result.ActualTokens,
		DurationMS:      result.DurationMS,
		Success:         success,
		OriginalPrompt:  bead.Description,
		OptimizedPrompt: bead.OptimizedPrompt,
		ErrorMessage:    errMsg,
		CompletedAt:     completedAt,
	}); err != nil {
		log.Printf("foreman: runBead: record completion for %s: %v", bead.ID, err)
	}
}

// handleExecuteError classifies a Polecat error per §7 and decides the
// lifecycle transition.
func (f *Foreman) handleExecuteError(ctx context.Context, beadID string, provider models.Provider, res *refinery.Reservation, execErr error) {
	var perr *polecat.Error
	if !errors.As(execErr, &perr) {
		f.failPermanent(ctx, beadID, res, execErr.Error())
		return
	}

	switch perr.Kind {
	case polecat.RateLimited:
		if err := f.refinery.Release(res, time.Now()); err != nil {
			log.Printf("foreman: runBead: release for %s: %v", beadID, err)
		}
		wakeAt := time.Now().Add(time.Minute)
		if tank, ok := f.refinery.Tank(provider); ok {
			wakeAt = tank.WindowEnd
		}
		if err := f.depot.Mark(ctx, beadID, models.BeadDeferred, func(b *models.Bead) {
			b.DeferredUntil = &wakeAt
			b.Error = perr.Message
		}); err != nil {
			log.Printf("foreman: runBead: defer rate-limited bead %s: %v", beadID, err)
		}

	case polecat.Transient, polecat.Timeout:
		if err := f.refinery.Release(res, time.Now()); err != nil {
			log.Printf("foreman: runBead: release for %s: %v", beadID, err)
		}
		f.refinery.RecordFailure(provider, time.Now())
		f.retryOrFail(ctx, beadID, perr.Message, nil)

	case polecat.Permanent:
		f.failPermanent(ctx, beadID, res, perr.Message)

	default:
		f.failPermanent(ctx, beadID, res, perr.Message)
	}
}

// retryOrFail returns a bead to Queued (bumping retry_count) if under
// max_retries, else marks it Failed. extra, if non-nil, runs against the
// bead before the retry transition (e.g. to re-estimate tokens).
func (f *Foreman) retryOrFail(ctx context.Context, beadID, reason string, extra func(b *models.Bead)) {
	bead, ok := f.depot.Get(beadID)
	if !ok {
		return
	}
	if bead.RetryCount >= f.cfg.MaxRetries {
		if err := f.depot.Mark(ctx, beadID, models.BeadFailed, func(b *models.Bead) {
			b.Error = fmt.Sprintf("exceeded max_retries (%d): %s", f.cfg.MaxRetries, reason)
		}); err != nil {
			log.Printf("foreman: runBead: mark failed (retries exhausted) for %s: %v", beadID, err)
		}
		return
	}
	if err := f.depot.Mark(ctx, beadID, models.BeadQueued, func(b *models.Bead) {
		b.RetryCount++
		b.AssignedProvider = nil
		b.StartedAt = nil
		b.Error = reason
		if extra != nil {
			extra(b)
		}
	}); err != nil {
		log.Printf("foreman: runBead: requeue %s: %v", beadID, err)
	}
}

func (f *Foreman) failPermanent(ctx context.Context, beadID string, res *refinery.Reservation, reason string) {
	if err := f.refinery.Release(res, time.Now()); err != nil {
		log.Printf("foreman: runBead: release for %s: %v", beadID, err)
	}
	if err := f.depot.Mark(ctx, beadID, models.BeadFailed, func(b *models.Bead) {
		b.Error = reason
	}); err != nil {
		log.Printf("foreman: runBead: mark failed for %s: %v", beadID, err)
	}
}
