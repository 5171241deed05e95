package assayer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/rigs/internal/cache"
	"github.com/jordanhubbard/rigs/pkg/models"
)

func newPipeline() *Pipeline {
	return New(NullPlanner{}, NullOptimizer{}, NullEstimator{}, NullQualityGate{}, cache.New(cache.DefaultConfig()), "null-model")
}

func TestPlan_RejectsCyclicGraph(t *testing.T) {
	p := newPipeline()

	a := models.NewBead("a", "", models.TaskImplementation, models.PriorityNormal)
	b := models.NewBead("b", "", models.TaskImplementation, models.PriorityNormal)
	a.Dependencies = []string{b.ID}
	b.Dependencies = []string{a.ID}

	cyclicPlanner := fixedPlanner{beads: []*models.Bead{a, b}}
	pipeline := New(cyclicPlanner, NullOptimizer{}, NullEstimator{}, NullQualityGate{}, nil, "m")

	_, err := pipeline.Plan(context.Background(), "goal")
	assert.ErrorIs(t, err, ErrCyclicPlan)
}

type fixedPlanner struct{ beads []*models.Bead }

func (f fixedPlanner) Plan(ctx context.Context, goal string) ([]*models.Bead, error) {
	return f.beads, nil
}

func TestOptimizeAndEstimate_SetsPromptAndTokensOnce(t *testing.T) {
	p := newPipeline()
	bead := models.NewBead("t", "a description", models.TaskImplementation, models.PriorityNormal)

	require.NoError(t, p.OptimizeAndEstimate(context.Background(), bead))
	assert.Equal(t, "a description", bead.OptimizedPrompt)
	assert.Greater(t, bead.EstimatedTokens, uint64(0))

	err := p.OptimizeAndEstimate(context.Background(), bead)
	assert.Error(t, err, "optimized_prompt may only transition null->set, never set->set")
}

func TestOptimizeAndEstimate_UsesCacheOnSecondCall(t *testing.T) {
	c := cache.New(cache.DefaultConfig())
	p := New(NullPlanner{}, countingOptimizer{}, NullEstimator{}, NullQualityGate{}, c, "m")

	b1 := models.NewBead("t", "same text", models.TaskImplementation, models.PriorityNormal)
	require.NoError(t, p.OptimizeAndEstimate(context.Background(), b1))

	b2 := models.NewBead("t", "same text", models.TaskImplementation, models.PriorityNormal)
	require.NoError(t, p.OptimizeAndEstimate(context.Background(), b2))

	assert.Equal(t, b1.OptimizedPrompt, b2.OptimizedPrompt)
	assert.Equal(t, b1.EstimatedTokens, b2.EstimatedTokens)
	assert.EqualValues(t, 1, optimizerCalls, "second call should be served from cache")
}

var optimizerCalls int

type countingOptimizer struct{}

func (countingOptimizer) Optimize(ctx context.Context, bead *models.Bead) (string, error) {
	optimizerCalls++
	return bead.Description, nil
}

func TestCheckQuality_PassOnNonEmptyOutput(t *testing.T) {
	p := newPipeline()
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)

	v, err := p.CheckQuality(context.Background(), bead, "some output")
	require.NoError(t, err)
	assert.Equal(t, Pass, v.Kind)
}

func TestCheckQuality_NeedsRevisionWhenCriterionMissing(t *testing.T) {
	p := newPipeline()
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)
	bead.AcceptanceCriteria = []string{"must mention foo"}

	v, err := p.CheckQuality(context.Background(), bead, "irrelevant output")
	require.NoError(t, err)
	assert.Equal(t, NeedsRevision, v.Kind)
}

func TestCheckQuality_FailOnEmptyOutput(t *testing.T) {
	p := newPipeline()
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)

	v, err := p.CheckQuality(context.Background(), bead, "")
	require.NoError(t, err)
	assert.Equal(t, Fail, v.Kind)
}
