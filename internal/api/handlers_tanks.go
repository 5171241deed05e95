package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/rigs/internal/eventbus"
	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// handleTanks serves GET /tanks: a read-only snapshot of every provider's
// current capacity/health/circuit state, for operator dashboards.
func (s *Server) handleTanks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respondJSON(w, http.StatusOK, s.refinery.AllTanks())
}

// handleTankRefresh serves POST /tanks/{provider}/refresh: forces an
// out-of-band RefreshAll cycle for a single provider, bypassing the
// Refinery's normal refresh_interval_seconds cadence.
func (s *Server) handleTankRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/tanks/")
	provider := models.Provider(strings.TrimSuffix(path, "/refresh"))
	if provider == "" {
		respondError(w, http.StatusNotFound, "missing provider")
		return
	}

	fetch, ok := s.fetchers[provider]
	if !ok {
		respondError(w, http.StatusNotFound, "no refresh adapter configured for provider "+string(provider))
		return
	}

	errs := s.refinery.RefreshAll(r.Context(), map[models.Provider]refinery.RefreshFunc{provider: fetch}, time.Now())
	if err, ok := errs[provider]; ok && err != nil {
		respondError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}

	tank, _ := s.refinery.Tank(provider)
	if s.bus != nil {
		_ = s.bus.Publish(&eventbus.Event{
			Type:     eventbus.EventTankHealthChange,
			Provider: provider,
		})
	}
	respondJSON(w, http.StatusOK, tank)
}
