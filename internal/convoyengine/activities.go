package convoyengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/depot"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// Activities bundles the Assayer plan/optimize stage and Depot insertion as
// Temporal activities, so a convoy's decomposition survives a rigsd restart
// mid-plan instead of starting over.
type Activities struct {
	assayer *assayer.Pipeline
	depot   *depot.Depot
	store   *storage.Store // nil disables optimization_traces recording
}

// NewActivities constructs an Activities bound to the given pipeline and
// depot. store may be nil, in which case OptimizeEstimateActivity skips
// recording an optimization trace.
func NewActivities(a *assayer.Pipeline, d *depot.Depot, store *storage.Store) *Activities {
	return &Activities{assayer: a, depot: d, store: store}
}

// PlanActivity decomposes a goal into beads via the Assayer planner.
func (a *Activities) PlanActivity(ctx context.Context, goal string) ([]*models.Bead, error) {
	beads, err := a.assayer.Plan(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("convoyengine: plan activity: %w", err)
	}
	return beads, nil
}

// OptimizeEstimateActivity runs the optimize+estimate stage on a single bead
// and returns the mutated bead (OptimizedPrompt, EstimatedTokens set).
func (a *Activities) OptimizeEstimateActivity(ctx context.Context, bead *models.Bead) (*models.Bead, error) {
	originalPrompt := bead.Description
	if err := a.assayer.OptimizeAndEstimate(ctx, bead); err != nil {
		return nil, fmt.Errorf("convoyengine: optimize_estimate activity: %w", err)
	}
	if a.store != nil {
		if err := a.store.RecordOptimizationTrace(ctx, storage.OptimizationTrace{
			ID:              uuid.NewString(),
			TaskType:        bead.TaskType,
			OriginalPrompt:  originalPrompt,
			OptimizedPrompt: bead.OptimizedPrompt,
			EstimatedTokens: bead.EstimatedTokens,
			CreatedAt:       time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("convoyengine: record optimization trace: %w", err)
		}
	}
	return bead, nil
}

// InsertBeadActivity persists a planned, optimized bead into the Depot as
// Queued (or Pending, if it has unsatisfied dependencies still being
// planned in the same convoy).
func (a *Activities) InsertBeadActivity(ctx context.Context, bead *models.Bead, queued bool) error {
	if queued {
		bead.Status = models.BeadQueued
	}
	if err := a.depot.Insert(ctx, bead); err != nil {
		return fmt.Errorf("convoyengine: insert bead activity: %w", err)
	}
	return nil
}
