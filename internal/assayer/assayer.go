// Package assayer is the pre/post-scheduling pipeline: plan decomposes a
// goal into beads, optimize/estimate prepare a bead for dispatch, and the
// quality gate judges a completed bead's output (spec §4.6). The Assayer
// never holds a reference to Refinery or Depot; it sets fields on the beads
// it is handed and leaves persisting them to callers.
package assayer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanhubbard/rigs/internal/cache"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// ErrCyclicPlan is returned by Plan when the planner produced a bead
// dependency graph containing a cycle; the whole convoy is rejected.
var ErrCyclicPlan = errors.New("assayer: planned beads contain a dependency cycle")

// Planner decomposes a free-form goal into beads.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]*models.Bead, error)
}

// Optimizer produces a refined prompt for a bead.
type Optimizer interface {
	Optimize(ctx context.Context, bead *models.Bead) (string, error)
}

// Estimator returns a non-negative token estimate for a bead.
type Estimator interface {
	Estimate(ctx context.Context, bead *models.Bead) (uint64, error)
}

// VerdictKind is the quality gate's outcome.
type VerdictKind string

const (
	Pass          VerdictKind = "pass"
	NeedsRevision VerdictKind = "needs_revision"
	Fail          VerdictKind = "fail"
)

// Verdict is the quality gate's judgment of a bead's output.
type Verdict struct {
	Kind    VerdictKind
	Notes   string
	Reasons []string
}

// QualityGate judges a completed bead's output.
type QualityGate interface {
	Check(ctx context.Context, bead *models.Bead, output string) (Verdict, error)
}

// Pipeline wires a Planner/Optimizer/Estimator/QualityGate together,
// memoizing optimize/estimate results through cache.
type Pipeline struct {
	planner   Planner
	optimizer Optimizer
	estimator Estimator
	gate      QualityGate
	cache     *cache.Cache
	model     string
}

// New constructs a Pipeline. cache may be nil to disable memoization.
func New(planner Planner, optimizer Optimizer, estimator Estimator, gate QualityGate, c *cache.Cache, model string) *Pipeline {
	return &Pipeline{planner: planner, optimizer: optimizer, estimator: estimator, gate: gate, cache: c, model: model}
}

// Plan decomposes goal into beads and rejects a cyclic dependency graph.
func (p *Pipeline) Plan(ctx context.Context, goal string) ([]*models.Bead, error) {
	beads, err := p.planner.Plan(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("assayer: plan: %w", err)
	}
	if hasCycle(beads) {
		return nil, ErrCyclicPlan
	}
	return beads, nil
}

// hasCycle runs DFS over the dependency edges of a bead batch (not yet
// persisted, so it can't consult the Depot).
func hasCycle(beads []*models.Bead) bool {
	byID := make(map[string]*models.Bead, len(beads))
	for _, b := range beads {
		byID[b.ID] = b
	}
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		if b, ok := byID[id]; ok {
			for _, dep := range b.Dependencies {
				if dfs(dep) {
					return true
				}
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}
	for _, b := range beads {
		if dfs(b.ID) {
			return true
		}
	}
	return false
}

// OptimizeAndEstimate sets bead.OptimizedPrompt (once — I5 forbids a
// second write) and bead.EstimatedTokens, consulting the cache first.
func (p *Pipeline) OptimizeAndEstimate(ctx context.Context, bead *models.Bead) error {
	if bead.OptimizedPrompt != "" {
		return fmt.Errorf("assayer: optimized_prompt already set for bead %s", bead.ID)
	}

	key, keyErr := cacheKey(string(bead.TaskType), p.model, bead)

	if p.cache != nil && keyErr == nil {
		if cached, ok := p.cache.Get(ctx, key); ok {
			if pair, ok := cached.(optimizeEstimatePair); ok {
				bead.OptimizedPrompt = pair.Prompt
				bead.EstimatedTokens = pair.Tokens
				return nil
			}
		}
	}

	prompt, err := p.optimizer.Optimize(ctx, bead)
	if err != nil {
		return fmt.Errorf("assayer: optimize: %w", err)
	}
	bead.OptimizedPrompt = prompt

	tokens, err := p.estimator.Estimate(ctx, bead)
	if err != nil {
		return fmt.Errorf("assayer: estimate: %w", err)
	}
	bead.EstimatedTokens = tokens

	if p.cache != nil && keyErr == nil {
		_ = p.cache.Set(ctx, key, optimizeEstimatePair{Prompt: prompt, Tokens: tokens}, 0)
	}
	return nil
}

type optimizeEstimatePair struct {
	Prompt string
	Tokens uint64
}

func cacheKey(taskType, model string, bead *models.Bead) (string, error) {
	return cache.GenerateKey(taskType, model, struct {
		Title       string
		Description string
	}{bead.Title, bead.Description})
}

// Reestimate recomputes bead.EstimatedTokens from the already-set
// OptimizedPrompt without touching it — I5 forbids a second write to
// optimized_prompt, but a revision cycle (Reviewing->Queued) still needs a
// fresh token estimate per the spec's recommendation.
func (p *Pipeline) Reestimate(ctx context.Context, bead *models.Bead) error {
	tokens, err := p.estimator.Estimate(ctx, bead)
	if err != nil {
		return fmt.Errorf("assayer: reestimate: %w", err)
	}
	bead.EstimatedTokens = tokens
	return nil
}

// CheckQuality judges output against bead's acceptance criteria.
func (p *Pipeline) CheckQuality(ctx context.Context, bead *models.Bead, output string) (Verdict, error) {
	v, err := p.gate.Check(ctx, bead, output)
	if err != nil {
		return Verdict{}, fmt.Errorf("assayer: quality_gate: %w", err)
	}
	return v, nil
}
