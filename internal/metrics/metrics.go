// Package metrics exposes rigsd's Prometheus collectors: per-provider tank
// health ratio, active reservation count, and circuit breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// circuitStateValue maps a CircuitState to the gauge value Grafana/alerting
// rules expect: 0 closed, 1 half-open, 2 open.
func circuitStateValue(s models.CircuitState) float64 {
	switch s {
	case models.CircuitClosed:
		return 0
	case models.CircuitHalfOpen:
		return 1
	case models.CircuitOpen:
		return 2
	default:
		return -1
	}
}

// Collectors bundles the gauges/counters rigsd registers once at startup.
type Collectors struct {
	TankRatio       *prometheus.GaugeVec
	TankHealth      *prometheus.GaugeVec
	CircuitState    *prometheus.GaugeVec
	ReservationsOut prometheus.Gauge
	BeadsByStatus   *prometheus.GaugeVec
}

// NewCollectors constructs and registers every collector against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		TankRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rigs",
			Subsystem: "tank",
			Name:      "remaining_ratio",
			Help:      "remaining/capacity for a provider's tank",
		}, []string{"provider"}),
		TankHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rigs",
			Subsystem: "tank",
			Name:      "health_red",
			Help:      "1 if the tank's health band is red or empty, else 0",
		}, []string{"provider"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rigs",
			Subsystem: "tank",
			Name:      "circuit_state",
			Help:      "0=closed 1=half_open 2=open",
		}, []string{"provider"}),
		ReservationsOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rigs",
			Subsystem: "refinery",
			Name:      "reservations_outstanding",
			Help:      "reservations issued but not yet reconciled or released",
		}),
		BeadsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rigs",
			Subsystem: "depot",
			Name:      "beads",
			Help:      "number of beads currently in each lifecycle status",
		}, []string{"status"}),
	}
	reg.MustRegister(c.TankRatio, c.TankHealth, c.CircuitState, c.ReservationsOut, c.BeadsByStatus)
	return c
}

// ObserveTank records one tank's ratio/health/circuit into the gauges.
func (c *Collectors) ObserveTank(tank models.Tank) {
	provider := string(tank.Provider)
	c.TankRatio.WithLabelValues(provider).Set(tank.Ratio())
	red := 0.0
	if tank.Health == models.HealthRed || tank.Health == models.HealthEmpty {
		red = 1.0
	}
	c.TankHealth.WithLabelValues(provider).Set(red)
	c.CircuitState.WithLabelValues(provider).Set(circuitStateValue(tank.CircuitState))
}

// SetReservationsOutstanding updates the single reservations-outstanding gauge.
func (c *Collectors) SetReservationsOutstanding(n int) {
	c.ReservationsOut.Set(float64(n))
}

// SetBeadsByStatus replaces the beads-by-status gauge vector wholesale from
// a full status->count snapshot, clearing any status missing from counts.
func (c *Collectors) SetBeadsByStatus(counts map[models.BeadStatus]int) {
	allStatuses := []models.BeadStatus{
		models.BeadPending, models.BeadOptimizing, models.BeadQueued, models.BeadAssigned,
		models.BeadDeferred, models.BeadInProgress, models.BeadReviewing, models.BeadCompleted,
		models.BeadFailed, models.BeadCancelled,
	}
	for _, status := range allStatuses {
		c.BeadsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
