package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/rigs/internal/eventbus"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/pkg/models"
)

type submitConvoyRequest struct {
	Name string `json:"name"`
	Goal string `json:"goal"`
}

type convoyResponse struct {
	*models.Convoy
	Beads []*models.Bead `json:"bead_details"`
}

// handleConvoys serves POST /convoys (submit a goal) and GET /convoys
// (list all known convoys).
func (s *Server) handleConvoys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitConvoy(w, r)
	case http.MethodGet:
		s.listConvoys(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) submitConvoy(w http.ResponseWriter, r *http.Request) {
	var req submitConvoyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		respondError(w, http.StatusBadRequest, "goal must not be empty")
		return
	}

	ctx := r.Context()
	beads, err := s.assayer.Plan(ctx, req.Goal)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "plan: "+err.Error())
		return
	}

	convoy := models.NewConvoy(req.Name, req.Goal)
	for _, b := range beads {
		b.ConvoyID = convoy.ID
		convoy.Beads = append(convoy.Beads, b.ID)

		originalPrompt := b.Description
		if err := s.assayer.OptimizeAndEstimate(ctx, b); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "optimize bead "+b.ID+": "+err.Error())
			return
		}
		if s.store != nil {
			if err := s.store.RecordOptimizationTrace(ctx, storage.OptimizationTrace{
				ID:              uuid.NewString(),
				TaskType:        b.TaskType,
				OriginalPrompt:  originalPrompt,
				OptimizedPrompt: b.OptimizedPrompt,
				EstimatedTokens: b.EstimatedTokens,
				CreatedAt:       time.Now(),
			}); err != nil {
				respondError(w, http.StatusInternalServerError, "record optimization trace "+b.ID+": "+err.Error())
				return
			}
		}
		if dependenciesSatisfied(b, beads) {
			b.Status = models.BeadQueued
		}
		if err := s.depot.Insert(ctx, b); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "insert bead "+b.ID+": "+err.Error())
			return
		}
	}
	convoy.Status = models.ConvoyQueued

	s.mu.Lock()
	s.convoys[convoy.ID] = convoy
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveConvoy(ctx, convoy); err != nil {
			respondError(w, http.StatusInternalServerError, "persist convoy: "+err.Error())
			return
		}
	}
	if s.bus != nil {
		_ = s.bus.Publish(&eventbus.Event{
			Type:     eventbus.EventConvoyStatusChange,
			ConvoyID: convoy.ID,
		})
	}

	respondJSON(w, http.StatusCreated, convoy)
}

func (s *Server) listConvoys(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]*models.Convoy, 0, len(s.convoys))
	for _, c := range s.convoys {
		out = append(out, c)
	}
	s.mu.RUnlock()
	respondJSON(w, http.StatusOK, out)
}

// handleConvoy serves GET /convoys/{id}: convoy metadata plus the current
// status of every constituent bead.
func (s *Server) handleConvoy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/convoys/")
	if id == "" {
		respondError(w, http.StatusNotFound, "missing convoy id")
		return
	}

	s.mu.RLock()
	convoy, ok := s.convoys[id]
	s.mu.RUnlock()
	if !ok {
		respondError(w, http.StatusNotFound, "convoy not found")
		return
	}

	beads := make([]*models.Bead, 0, len(convoy.Beads))
	for _, beadID := range convoy.Beads {
		if b, ok := s.depot.Get(beadID); ok {
			beads = append(beads, b)
		}
	}
	respondJSON(w, http.StatusOK, convoyResponse{Convoy: convoy, Beads: beads})
}

func dependenciesSatisfied(b *models.Bead, all []*models.Bead) bool {
	return len(b.Dependencies) == 0
}
