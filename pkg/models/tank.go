package models

import "time"

// Health is the banded representation of a tank's remaining ratio against
// configured yellow/red thresholds.
type Health string

const (
	HealthGreen  Health = "green"
	HealthYellow Health = "yellow"
	HealthRed    Health = "red"
	HealthEmpty  Health = "empty"
)

// ComputeHealth is the pure function required by invariant T3: health is a
// pure function of remaining/capacity against the configured thresholds.
func ComputeHealth(remaining, capacity float64, yellow, red float64) Health {
	if remaining <= 0 {
		return HealthEmpty
	}
	if capacity <= 0 {
		return HealthEmpty
	}
	ratio := remaining / capacity
	switch {
	case ratio <= red:
		return HealthRed
	case ratio <= yellow:
		return HealthYellow
	default:
		return HealthGreen
	}
}

// WindowKind selects which reset rule and admission check a Tank's primary
// window uses (§4.1).
type WindowKind string

const (
	WindowFixedDaily WindowKind = "fixed_daily"
	WindowRollingN   WindowKind = "rolling_n_hour"
)

// CircuitState is the per-provider circuit breaker state (§4.7), distinct
// from Health.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Tank is the rate-limit accounting record for one provider. Capacity and
// remaining are expressed in tokens (the window budget); a tank may also
// carry a secondary per-minute TokenBucket gating request count (RPM).
type Tank struct {
	Provider Provider `json:"provider"`

	WindowKind WindowKind `json:"window_kind"`
	Capacity   float64    `json:"capacity"`
	Remaining  float64    `json:"remaining"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	WindowHours float64   `json:"window_hours"` // rolling-N window length, hours

	YellowThreshold float64 `json:"yellow_threshold"`
	RedThreshold    float64 `json:"red_threshold"`

	Health              Health `json:"health"`
	RequestsThisWindow  int64  `json:"requests_this_window"`
	TokensThisWindow    int64  `json:"tokens_this_window"`
	LastRequest         *time.Time `json:"last_request,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`

	// RPM gate: requests-per-minute, modeled as a secondary TokenBucket with
	// capacity=rpm, refill rate=rpm/60 (§4.1). Zero RPM means no RPM gate.
	RPM float64 `json:"rpm,omitempty"`

	// Circuit breaker state, independent of Health/remaining accounting.
	CircuitState         CircuitState `json:"circuit_state"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	CircuitOpenedAt      *time.Time   `json:"circuit_opened_at,omitempty"`
	CircuitBackoff       time.Duration `json:"circuit_backoff,omitempty"`
}

// Ratio returns remaining/capacity, or 0 for a zero-capacity tank.
func (t *Tank) Ratio() float64 {
	if t.Capacity <= 0 {
		return 0
	}
	return t.Remaining / t.Capacity
}

// RecomputeHealth updates t.Health from its current remaining/capacity and
// configured thresholds (T3).
func (t *Tank) RecomputeHealth() {
	t.Health = ComputeHealth(t.Remaining, t.Capacity, t.YellowThreshold, t.RedThreshold)
}
