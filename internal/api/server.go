// Package api is the operator-facing HTTP/WebSocket surface: submit a
// convoy, inspect its progress, read tank health, and force a refresh —
// everything a human operator needs that the Foreman loop does on its own.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/rigs/internal/assayer"
	"github.com/jordanhubbard/rigs/internal/auth"
	"github.com/jordanhubbard/rigs/internal/depot"
	"github.com/jordanhubbard/rigs/internal/eventbus"
	"github.com/jordanhubbard/rigs/internal/metrics"
	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/internal/storage"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// Server wires the scheduling core to HTTP handlers. Construct one per
// rigsd process via NewServer and mount it with SetupRoutes.
type Server struct {
	depot     *depot.Depot
	refinery  *refinery.Refinery
	assayer   *assayer.Pipeline
	bus       *eventbus.Bus
	store     *storage.Store // nil when running without Postgres persistence
	auth      *auth.Manager
	fetchers  map[models.Provider]refinery.RefreshFunc
	collectors *metrics.Collectors

	mu      sync.RWMutex
	convoys map[string]*models.Convoy
}

// NewServer constructs a Server. store, auth, and collectors may be nil —
// each capability degrades gracefully when its dependency is absent.
func NewServer(d *depot.Depot, r *refinery.Refinery, a *assayer.Pipeline, bus *eventbus.Bus, store *storage.Store, am *auth.Manager, fetchers map[models.Provider]refinery.RefreshFunc, collectors *metrics.Collectors) *Server {
	return &Server{
		depot:      d,
		refinery:   r,
		assayer:    a,
		bus:        bus,
		store:      store,
		auth:       am,
		fetchers:   fetchers,
		collectors: collectors,
		convoys:    make(map[string]*models.Convoy),
	}
}

// SetupRoutes builds the full operator mux. JWT auth, when configured,
// gates every route except /health and /metrics.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/convoys", s.handleConvoys)
	mux.HandleFunc("/convoys/", s.handleConvoy)
	mux.HandleFunc("/tanks", s.handleTanks)
	mux.HandleFunc("/tanks/", s.handleTankRefresh)
	mux.HandleFunc("/events/ws", s.handleEventsWS)

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.authGate(mux)
	}
	return handler
}

// authGate applies JWT auth to everything except the unauthenticated
// health/metrics probes, which load balancers and Prometheus hit directly.
func (s *Server) authGate(next http.Handler) http.Handler {
	protected := s.auth.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
