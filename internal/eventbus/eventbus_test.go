package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/rigs/pkg/models"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe("sub-1", nil)
	require.NoError(t, b.Publish(&Event{Type: EventBeadCreated, BeadID: "gt-aaaaa"}))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, EventBeadCreated, ev.Type)
		assert.Equal(t, "gt-aaaaa", ev.BeadID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_FilterExcludesNonMatchingEvents(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe("sub-1", func(e *Event) bool {
		return e.Type == EventBeadCompleted
	})

	require.NoError(t, b.Publish(&Event{Type: EventBeadCreated, BeadID: "gt-aaaaa"}))
	require.NoError(t, b.Publish(&Event{Type: EventBeadCompleted, BeadID: "gt-bbbbb"}))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, EventBeadCompleted, ev.Type)
		assert.Equal(t, "gt-bbbbb", ev.BeadID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case ev := <-sub.Channel:
		t.Fatalf("unexpected second event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe("sub-1", nil)
	b.Unsubscribe("sub-1")

	_, ok := <-sub.Channel
	assert.False(t, ok)
}

func TestBus_PublishBeadTransitionCarriesStatus(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe("sub-1", nil)
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)
	bead.Status = models.BeadCompleted

	require.NoError(t, b.PublishBeadTransition(EventBeadCompleted, bead))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, bead.ID, ev.BeadID)
		assert.Equal(t, "completed", ev.Data["status"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishTankChangeCarriesHealth(t *testing.T) {
	b := New(0, nil)
	defer b.Close()

	sub := b.Subscribe("sub-1", nil)
	tank := models.Tank{Provider: models.ProviderClaude, Health: models.HealthYellow, Capacity: 1000, Remaining: 300}

	require.NoError(t, b.PublishTankChange(EventTankHealthChange, tank))

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, models.ProviderClaude, ev.Provider)
		assert.Equal(t, "yellow", ev.Data["health"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishNeverBlocksUnderNormalLoad(t *testing.T) {
	b := New(1, nil)
	defer b.Close()

	for i := 0; i < 10; i++ {
		_ = b.Publish(&Event{Type: EventBeadCreated})
	}
}
