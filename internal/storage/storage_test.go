package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/rigs/pkg/models"
)

func pgParams() (host, port, user, password string) {
	host = os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port = os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	user = os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "rigs"
	}
	password = os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "rigs"
	}
	return
}

// newTestStore opens a fresh throwaway database against a locally reachable
// Postgres instance and skips the test if none is available.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	host, port, user, password := pgParams()
	admDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable connect_timeout=5",
		host, port, user, password)

	adminDB, err := sql.Open("postgres", admDSN)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("postgres not reachable: %v", err)
	}

	dbName := fmt.Sprintf("rigs_test_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE "` + dbName + `"`); err != nil {
		adminDB.Close()
		t.Skipf("cannot create test database: %v", err)
	}
	adminDB.Close()

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=5",
		host, port, user, password, dbName)
	store, err := Open(dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
		if a, e := sql.Open("postgres", admDSN); e == nil {
			a.Exec(`DROP DATABASE IF EXISTS "` + dbName + `"`)
			a.Close()
		}
	})

	return store
}

func TestStore_SaveAndLoadBead_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := models.NewBead("title", "description", models.TaskImplementation, models.PriorityHigh)
	b.Status = models.BeadQueued
	b.OptimizedPrompt = "optimized"
	b.EstimatedTokens = 123
	b.Dependencies = []string{"gt-aaaaa"}
	b.AcceptanceCriteria = []string{"works"}

	require.NoError(t, s.SaveBead(ctx, b))

	loaded, err := s.LoadAllBeads(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Status, got.Status)
	assert.Equal(t, b.OptimizedPrompt, got.OptimizedPrompt)
	assert.EqualValues(t, b.EstimatedTokens, got.EstimatedTokens)
	assert.Equal(t, b.Dependencies, got.Dependencies)
	assert.Equal(t, b.AcceptanceCriteria, got.AcceptanceCriteria)
}

func TestStore_SaveBead_UpsertOverwritesStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := models.NewBead("t", "d", models.TaskReview, models.PriorityNormal)
	b.Status = models.BeadQueued
	require.NoError(t, s.SaveBead(ctx, b))

	b.Status = models.BeadCompleted
	actual := uint64(42)
	b.ActualTokens = &actual
	require.NoError(t, s.SaveBead(ctx, b))

	loaded, err := s.LoadAllBeads(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.BeadCompleted, loaded[0].Status)
	require.NotNil(t, loaded[0].ActualTokens)
	assert.EqualValues(t, 42, *loaded[0].ActualTokens)
}

func TestStore_SaveAndLoadTank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tank := &models.Tank{
		Provider:    models.ProviderClaude,
		Capacity:    1000,
		Remaining:   700,
		WindowStart: time.Now(),
		WindowEnd:   time.Now().Add(24 * time.Hour),
		Health:      models.HealthGreen,
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, s.SaveTank(ctx, tank))

	tanks, err := s.LoadAllTanks(ctx)
	require.NoError(t, err)
	require.Len(t, tanks, 1)
	assert.Equal(t, models.ProviderClaude, tanks[0].Provider)
	assert.Equal(t, 700.0, tanks[0].Remaining)
}

func TestStore_ConvoyRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := models.NewConvoy("name", "goal")
	c.Beads = []string{"gt-aaaaa", "gt-bbbbb"}
	c.Metadata["owner"] = "ops"
	require.NoError(t, s.SaveConvoy(ctx, c))

	loaded, err := s.LoadConvoy(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, loaded.Name)
	assert.Equal(t, c.Beads, loaded.Beads)
	assert.Equal(t, "ops", loaded.Metadata["owner"])
}

func TestStore_RecordCompletionAndOptimizationTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordCompletion(ctx, Completion{
		ID:              "c-1",
		BeadID:          "gt-aaaaa",
		Provider:        models.ProviderCodex,
		EstimatedTokens: 100,
		ActualTokens:    110,
		DurationMS:      5000,
		Success:         true,
		CompletedAt:     time.Now(),
	})
	require.NoError(t, err)

	err = s.RecordOptimizationTrace(ctx, OptimizationTrace{
		ID:              "t-1",
		TaskType:        models.TaskImplementation,
		OriginalPrompt:  "do it",
		OptimizedPrompt: "do it precisely",
		EstimatedTokens: 100,
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
}

func TestStore_ConfigRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetConfig(ctx, "general.strategy")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfig(ctx, "general.strategy", "aggressive"))
	value, ok, err := s.GetConfig(ctx, "general.strategy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aggressive", value)
}
