package depot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/rigs/internal/eventbus"
	"github.com/jordanhubbard/rigs/pkg/models"
)

func newTestDepot() (*Depot, *MemoryRepository) {
	repo := NewMemoryRepository()
	return New(repo, nil), repo
}

func queuedBead(priority models.Priority, createdAt time.Time) *models.Bead {
	b := models.NewBead("t", "d", models.TaskImplementation, priority)
	b.CreatedAt = createdAt
	b.Status = models.BeadQueued
	return b
}

func TestInsert_RejectsCycle(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	a := models.NewBead("a", "", models.TaskImplementation, models.PriorityNormal)
	b := models.NewBead("b", "", models.TaskImplementation, models.PriorityNormal)
	a.Dependencies = []string{b.ID}
	b.Dependencies = []string{a.ID}

	require.NoError(t, d.Insert(ctx, b))
	err := d.Insert(ctx, a)
	assert.ErrorIs(t, err, ErrDependencyCycle)
}

func TestNextSchedulable_PriorityDescTieBreak(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	now := time.Now()
	low := queuedBead(models.PriorityLow, now)
	high := queuedBead(models.PriorityHigh, now)
	require.NoError(t, d.Insert(ctx, low))
	require.NoError(t, d.Insert(ctx, high))

	got, ok := d.NextSchedulable()
	require.True(t, ok)
	assert.Equal(t, high.ID, got.ID)
}

func TestNextSchedulable_CreatedAtAscThenIDAsc(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	now := time.Now()
	older := queuedBead(models.PriorityNormal, now.Add(-time.Hour))
	newer := queuedBead(models.PriorityNormal, now)
	require.NoError(t, d.Insert(ctx, newer))
	require.NoError(t, d.Insert(ctx, older))

	got, ok := d.NextSchedulable()
	require.True(t, ok)
	assert.Equal(t, older.ID, got.ID)
}

func TestNextSchedulable_RespectsDependencyReadiness(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	prereq := queuedBead(models.PriorityNormal, time.Now())
	dependent := queuedBead(models.PriorityCritical, time.Now())
	dependent.Dependencies = []string{prereq.ID}

	require.NoError(t, d.Insert(ctx, prereq))
	require.NoError(t, d.Insert(ctx, dependent))

	got, ok := d.NextSchedulable()
	require.True(t, ok)
	assert.Equal(t, prereq.ID, got.ID, "dependent bead isn't schedulable until its prerequisite completes")
}

func TestMark_RejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	b := models.NewBead("t", "", models.TaskImplementation, models.PriorityNormal)
	require.NoError(t, d.Insert(ctx, b))

	err := d.Mark(ctx, b.ID, models.BeadCompleted, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestMark_LegalTransitionPersists(t *testing.T) {
	ctx := context.Background()
	d, repo := newTestDepot()
	defer d.Close()

	b := models.NewBead("t", "", models.TaskImplementation, models.PriorityNormal)
	require.NoError(t, d.Insert(ctx, b))

	require.NoError(t, d.Mark(ctx, b.ID, models.BeadOptimizing, nil))

	got, ok := d.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, models.BeadOptimizing, got.Status)

	stored, ok := repo.beads[b.ID]
	require.True(t, ok)
	assert.Equal(t, models.BeadOptimizing, stored.Status)
}

func TestMark_CascadesDependencyFailureToCancelled(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	prereq := models.NewBead("prereq", "", models.TaskImplementation, models.PriorityNormal)
	dependent := models.NewBead("dependent", "", models.TaskImplementation, models.PriorityNormal)
	dependent.Dependencies = []string{prereq.ID}

	require.NoError(t, d.Insert(ctx, prereq))
	require.NoError(t, d.Insert(ctx, dependent))

	require.NoError(t, d.Mark(ctx, prereq.ID, models.BeadOptimizing, nil))
	require.NoError(t, d.Mark(ctx, prereq.ID, models.BeadFailed, nil))

	got, ok := d.Get(dependent.ID)
	require.True(t, ok)
	assert.Equal(t, models.BeadCancelled, got.Status)
	assert.Contains(t, got.Error, prereq.ID)
}

func TestInsertAndMark_PublishBeadTransitions(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New(0, nil)
	defer bus.Close()
	d := New(NewMemoryRepository(), bus)
	defer d.Close()

	sub := bus.Subscribe("test", nil)
	defer bus.Unsubscribe("test")

	b := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)
	require.NoError(t, d.Insert(ctx, b))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, eventbus.EventBeadCreated, ev.Type)
		assert.Equal(t, b.ID, ev.BeadID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bead created event")
	}

	require.NoError(t, d.Mark(ctx, b.ID, models.BeadOptimizing, nil))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, eventbus.EventBeadStatusChange, ev.Type)
		assert.Equal(t, b.ID, ev.BeadID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bead status change event")
	}
}

func TestDeferThenPromoteReady(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	b := queuedBead(models.PriorityNormal, time.Now())
	require.NoError(t, d.Insert(ctx, b))

	wake := time.Now().Add(time.Minute)
	require.NoError(t, d.Defer(ctx, b.ID, wake))

	got, _ := d.Get(b.ID)
	assert.Equal(t, models.BeadDeferred, got.Status)

	n, err := d.PromoteReady(ctx, wake.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "wake time not yet reached")

	n, err = d.PromoteReady(ctx, wake)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ = d.Get(b.ID)
	assert.Equal(t, models.BeadQueued, got.Status)
	assert.Nil(t, got.DeferredUntil)
}

func TestPromoteReady_WakeEqualToNowPromotes(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	b := queuedBead(models.PriorityNormal, time.Now())
	require.NoError(t, d.Insert(ctx, b))

	now := time.Now()
	require.NoError(t, d.Defer(ctx, b.ID, now))

	n, err := d.PromoteReady(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecover_ResetsInFlightBeadsToQueued(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	b := models.NewBead("t", "", models.TaskImplementation, models.PriorityNormal)
	b.Status = models.BeadInProgress
	provider := models.ProviderClaude
	b.AssignedProvider = &provider
	started := time.Now()
	b.StartedAt = &started
	require.NoError(t, repo.SaveBead(ctx, b))

	d, err := Recover(ctx, repo, nil)
	require.NoError(t, err)
	defer d.Close()

	got, ok := d.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, models.BeadQueued, got.Status)
	assert.Nil(t, got.AssignedProvider)
}

func TestListByStatus_OrdersBySchedulePriority(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	now := time.Now()
	low := queuedBead(models.PriorityLow, now)
	high := queuedBead(models.PriorityHigh, now)
	require.NoError(t, d.Insert(ctx, low))
	require.NoError(t, d.Insert(ctx, high))

	list := d.ListByStatus(models.BeadQueued)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)
}

func TestListByConvoy(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDepot()
	defer d.Close()

	b1 := models.NewBead("a", "", models.TaskImplementation, models.PriorityNormal)
	b1.ConvoyID = "convoy-1"
	b2 := models.NewBead("b", "", models.TaskImplementation, models.PriorityNormal)
	b2.ConvoyID = "convoy-2"
	require.NoError(t, d.Insert(ctx, b1))
	require.NoError(t, d.Insert(ctx, b2))

	list := d.ListByConvoy("convoy-1")
	require.Len(t, list, 1)
	assert.Equal(t, b1.ID, list[0].ID)
}
