package convoyengine

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// ConvoyWorkflowInput starts a convoy's planning pipeline from an operator's
// free-text goal.
type ConvoyWorkflowInput struct {
	ConvoyID string
	Goal     string
}

// ConvoyWorkflowResult reports how many beads the convoy was decomposed
// into and how many made it into the Depot.
type ConvoyWorkflowResult struct {
	PlannedCount int
	InsertedIDs  []string
}

// ConvoyWorkflow decomposes a goal into beads, optimizes and estimates each
// one, then inserts them into the Depot in dependency order. Running this as
// a Temporal workflow means a rigsd restart mid-plan resumes from the last
// completed activity instead of re-planning the whole convoy from scratch.
func ConvoyWorkflow(ctx workflow.Context, input ConvoyWorkflowInput) (ConvoyWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("convoy workflow started", "convoyID", input.ConvoyID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var beads []*models.Bead
	if err := workflow.ExecuteActivity(ctx, "PlanActivity", input.Goal).Get(ctx, &beads); err != nil {
		return ConvoyWorkflowResult{}, fmt.Errorf("convoyengine: plan: %w", err)
	}
	for _, b := range beads {
		b.ConvoyID = input.ConvoyID
	}

	result := ConvoyWorkflowResult{PlannedCount: len(beads)}

	resolved := make(map[string]bool, len(beads))
	for len(resolved) < len(beads) {
		progressed := false
		for _, b := range beads {
			if resolved[b.ID] {
				continue
			}
			if !dependenciesResolved(b, resolved) {
				continue
			}

			var optimized *models.Bead
			if err := workflow.ExecuteActivity(ctx, "OptimizeEstimateActivity", b).Get(ctx, &optimized); err != nil {
				return result, fmt.Errorf("convoyengine: optimize bead %s: %w", b.ID, err)
			}

			if err := workflow.ExecuteActivity(ctx, "InsertBeadActivity", optimized, true).Get(ctx, nil); err != nil {
				return result, fmt.Errorf("convoyengine: insert bead %s: %w", b.ID, err)
			}

			resolved[b.ID] = true
			result.InsertedIDs = append(result.InsertedIDs, b.ID)
			progressed = true
		}
		if !progressed {
			return result, fmt.Errorf("convoyengine: unresolvable dependency cycle among remaining beads in convoy %s", input.ConvoyID)
		}
	}

	logger.Info("convoy workflow completed", "convoyID", input.ConvoyID, "inserted", len(result.InsertedIDs))
	return result, nil
}

func dependenciesResolved(b *models.Bead, resolved map[string]bool) bool {
	for _, dep := range b.Dependencies {
		if !resolved[dep] {
			return false
		}
	}
	return true
}
