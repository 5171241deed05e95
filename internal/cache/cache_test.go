package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_StableForSameInput(t *testing.T) {
	k1, err := GenerateKey("implementation", "model-a", map[string]string{"title": "x"})
	require.NoError(t, err)
	k2, err := GenerateKey("implementation", "model-a", map[string]string{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestGenerateKey_DiffersByModel(t *testing.T) {
	input := map[string]string{"title": "x"}
	k1, _ := GenerateKey("implementation", "model-a", input)
	k2, _ := GenerateKey("implementation", "model-b", input)
	assert.NotEqual(t, k1, k2)
}

func TestSetThenGet_Hit(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "value-1", time.Minute))

	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "value-1", got)
	assert.EqualValues(t, 1, c.Stats().Hits)
}

func TestGet_MissWhenAbsent(t *testing.T) {
	c := New(DefaultConfig())
	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats().Misses)
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v", time.Millisecond))

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestDisabledCache_NeverStores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := New(cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v", time.Minute))
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestEvictsOldestWhenOverMaxSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	c := New(cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "c", 3, time.Minute))

	_, aStillThere := c.Get(ctx, "a")
	assert.False(t, aStillThere, "oldest entry should have been evicted")

	_, cThere := c.Get(ctx, "c")
	assert.True(t, cThere)
}
