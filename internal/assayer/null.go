package assayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// NullPlanner decomposes a goal into exactly one implementation bead. It
// exists so rigsd can run end-to-end without a configured planning model.
type NullPlanner struct{}

func (NullPlanner) Plan(ctx context.Context, goal string) ([]*models.Bead, error) {
	b := models.NewBead(goal, goal, models.TaskImplementation, models.PriorityNormal)
	return []*models.Bead{b}, nil
}

// NullOptimizer returns the description with surrounding whitespace
// trimmed, adding nothing to it.
type NullOptimizer struct{}

func (NullOptimizer) Optimize(ctx context.Context, bead *models.Bead) (string, error) {
	return strings.TrimSpace(bead.Description), nil
}

// NullEstimator estimates tokens as 4x the optimized prompt's rune count,
// a rough heuristic rather than a model call.
type NullEstimator struct{}

func (NullEstimator) Estimate(ctx context.Context, bead *models.Bead) (uint64, error) {
	n := len([]rune(bead.OptimizedPrompt))
	return uint64(n * 4), nil
}

// NullQualityGate passes any non-empty output.
type NullQualityGate struct{}

func (NullQualityGate) Check(ctx context.Context, bead *models.Bead, output string) (Verdict, error) {
	if strings.TrimSpace(output) == "" {
		return Verdict{Kind: Fail, Reasons: []string{"empty output"}}, nil
	}
	for _, criterion := range bead.AcceptanceCriteria {
		if !strings.Contains(output, criterion) {
			return Verdict{
				Kind:  NeedsRevision,
				Notes: fmt.Sprintf("output does not mention acceptance criterion %q", criterion),
			}, nil
		}
	}
	return Verdict{Kind: Pass}, nil
}
