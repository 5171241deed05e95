package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/cache"
	"github.com/jordanhubbard/rigs/internal/depot"
	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/pkg/models"
)

func newTestServer() *Server {
	d := depot.New(depot.NewMemoryRepository(), nil)
	r := refinery.New(map[models.Provider]refinery.TankConfig{
		"claude": {WindowKind: models.WindowFixedDaily, Capacity: 1000, YellowThreshold: 0.5, RedThreshold: 0.2},
	}, time.Now())
	p := assayer.New(assayer.NullPlanner{}, assayer.NullOptimizer{}, assayer.NullEstimator{}, assayer.NullQualityGate{}, cache.New(cache.DefaultConfig()), "null-model")
	return NewServer(d, r, p, nil, nil, nil, nil, nil)
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.SetupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitConvoy_PlansOptimizesAndQueuesBeads(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(submitConvoyRequest{Name: "release", Goal: "ship the feature"})
	req := httptest.NewRequest(http.MethodPost, "/convoys", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.SetupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var convoy models.Convoy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convoy))
	assert.Equal(t, models.ConvoyQueued, convoy.Status)
	assert.NotEmpty(t, convoy.Beads)

	for _, beadID := range convoy.Beads {
		bead, ok := s.depot.Get(beadID)
		require.True(t, ok)
		assert.Equal(t, models.BeadQueued, bead.Status)
	}
}

func TestSubmitConvoy_RejectsEmptyGoal(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(submitConvoyRequest{Name: "release", Goal: ""})
	req := httptest.NewRequest(http.MethodPost, "/convoys", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.SetupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConvoy_ReturnsBeadDetails(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(submitConvoyRequest{Name: "release", Goal: "ship the feature"})
	postReq := httptest.NewRequest(http.MethodPost, "/convoys", bytes.NewReader(body))
	postRec := httptest.NewRecorder()
	handler := s.SetupRoutes()
	handler.ServeHTTP(postRec, postReq)

	var convoy models.Convoy
	require.NoError(t, json.Unmarshal(postRec.Body.Bytes(), &convoy))

	getReq := httptest.NewRequest(http.MethodGet, "/convoys/"+convoy.ID, nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	var resp convoyResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &resp))
	assert.Len(t, resp.Beads, len(convoy.Beads))
}

func TestGetConvoy_UnknownIDReturns404(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/convoys/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.SetupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTanks_ReturnsRefinerySnapshot(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/tanks", nil)
	rec := httptest.NewRecorder()

	s.SetupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tanks []models.Tank
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tanks))
	require.Len(t, tanks, 1)
	assert.Equal(t, models.Provider("claude"), tanks[0].Provider)
}

func TestHandleTankRefresh_NoAdapterReturns404(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/tanks/claude/refresh", nil)
	rec := httptest.NewRecorder()

	s.SetupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
