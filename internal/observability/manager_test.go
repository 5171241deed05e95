package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RecentReturnsNewestFirst(t *testing.T) {
	m := NewManager(nil)
	m.Info("foreman", "first", nil)
	m.Info("foreman", "second", nil)
	m.Info("foreman", "third", nil)

	entries := m.Recent(10, "", "")
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.Equal(t, "first", entries[2].Message)
}

func TestManager_RecentFiltersByLevelAndSource(t *testing.T) {
	m := NewManager(nil)
	m.Info("foreman", "info msg", nil)
	m.Error("refinery", "error msg", nil)

	errs := m.Recent(10, LevelError, "")
	require.Len(t, errs, 1)
	assert.Equal(t, "error msg", errs[0].Message)

	bySource := m.Recent(10, "", "refinery")
	require.Len(t, bySource, 1)
	assert.Equal(t, "refinery", bySource[0].Source)
}

func TestManager_AddHandlerNotifiedOnLog(t *testing.T) {
	m := NewManager(nil)
	received := make(chan Entry, 1)
	m.AddHandler(func(e Entry) { received <- e })

	m.Warn("depot", "something happened", map[string]interface{}{"bead_id": "gt-aaaaa"})

	select {
	case e := <-received:
		assert.Equal(t, LevelWarn, e.Level)
		assert.Equal(t, "gt-aaaaa", e.Metadata["bead_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler notification")
	}
}
