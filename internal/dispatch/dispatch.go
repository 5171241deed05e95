// Package dispatch implements the pure routing decision function of §4.3:
// given a bead, a Refinery snapshot, and configuration, produce a Route or
// Defer decision. It holds no state and performs no I/O.
package dispatch

import (
	"time"

	"github.com/jordanhubbard/rigs/internal/refinery"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// Kind distinguishes the two possible Decision shapes.
type Kind string

const (
	KindRoute Kind = "route"
	KindDefer Kind = "defer"
)

// Decision is the output of Route: either a provider to hand the bead to,
// or a wake time at which to retry.
type Decision struct {
	Kind     Kind
	Provider models.Provider

	WakeAt        time.Time
	Unsatisfiable bool // true iff no provider could ever admit this estimate

	// TrippedProviders lists providers skipped this call because their
	// breaker was open — diagnostic only, mirrors Bead.CircuitTrippedProviders.
	TrippedProviders []models.Provider
}

// AffinityMatrix is TaskType x Provider -> weight in [0,1].
type AffinityMatrix map[models.TaskType]map[models.Provider]float64

func (m AffinityMatrix) weight(task models.TaskType, p models.Provider) float64 {
	row, ok := m[task]
	if !ok {
		return 0
	}
	return row[p]
}

// Input bundles the per-call parameters Route needs beyond the snapshot.
type Input struct {
	EstimatedTokens   float64
	TaskType          models.TaskType
	PreferredProvider *models.Provider
	Strategy          models.Strategy
	Affinity          AffinityMatrix
	// ProviderOrder is the enumeration order used to break ties; callers
	// typically pass the subset of models.AllProviders present in Snapshot.
	ProviderOrder []models.Provider
}

// Route is the pure decision function. Identical inputs always yield an
// identical Decision.
func Route(in Input, snap refinery.Snapshot, now time.Time) Decision {
	tripped := trippedProviders(in.ProviderOrder, snap)

	if in.PreferredProvider != nil {
		if v, ok := snap[*in.PreferredProvider]; ok && canAdmit(v, in.Strategy, in.EstimatedTokens) {
			return Decision{Kind: KindRoute, Provider: *in.PreferredProvider, TrippedProviders: tripped}
		}
	}

	if in.Strategy == models.StrategyConservative {
		return routeConservative(in, snap, now, tripped)
	}

	best, found := selectBest(in, snap)
	if found {
		return Decision{Kind: KindRoute, Provider: best, TrippedProviders: tripped}
	}

	return deferDecision(in, snap, now, in.ProviderOrder, tripped)
}

// routeConservative implements the special conservative rule: only the
// single highest-affinity Green provider is ever considered; anything else
// defers, regardless of whether another provider could admit.
func routeConservative(in Input, snap refinery.Snapshot, now time.Time, tripped []models.Provider) Decision {
	chosen, ok := highestAffinity(in, snap)
	if !ok {
		return Decision{Kind: KindDefer, WakeAt: now, Unsatisfiable: true, TrippedProviders: tripped}
	}
	if v := snap[chosen]; canAdmit(v, models.StrategyConservative, in.EstimatedTokens) {
		return Decision{Kind: KindRoute, Provider: chosen, TrippedProviders: tripped}
	}
	return deferDecision(in, snap, now, []models.Provider{chosen}, tripped)
}

func highestAffinity(in Input, snap refinery.Snapshot) (models.Provider, bool) {
	var best models.Provider
	bestWeight := -1.0
	found := false
	for _, p := range in.ProviderOrder {
		if _, ok := snap[p]; !ok {
			continue
		}
		w := in.Affinity.weight(in.TaskType, p)
		if w > bestWeight {
			bestWeight = w
			best = p
			found = true
		}
	}
	return best, found
}

// selectBest scores every admissible provider and returns the argmax,
// tie-broken by higher capacity_ratio then provider enumeration order.
func selectBest(in Input, snap refinery.Snapshot) (models.Provider, bool) {
	var best models.Provider
	bestScore := -1.0
	bestRatio := -1.0
	found := false

	for _, p := range in.ProviderOrder {
		v, ok := snap[p]
		if !ok || !canAdmit(v, in.Strategy, in.EstimatedTokens) {
			continue
		}
		score := in.Affinity.weight(in.TaskType, p) * v.Ratio
		switch {
		case !found:
			best, bestScore, bestRatio, found = p, score, v.Ratio, true
		case score > bestScore:
			best, bestScore, bestRatio = p, score, v.Ratio
		case score == bestScore && v.Ratio > bestRatio:
			best, bestRatio = p, v.Ratio
		}
	}
	return best, found
}

// canAdmit implements the strategy semantics of §4.3.
func canAdmit(v refinery.TankView, strategy models.Strategy, estimated float64) bool {
	if !v.CircuitAdmits {
		return false
	}
	if v.Remaining < estimated {
		return false
	}
	switch strategy {
	case models.StrategyAggressive:
		return true
	case models.StrategyConservative:
		return v.Health == models.HealthGreen
	default: // Balanced
		return v.Health == models.HealthGreen || v.Health == models.HealthYellow
	}
}

// deferDecision computes, for each candidate provider, the earliest time
// its tank would satisfy estimatedTokens (via window reset or RPM refill),
// and returns a Defer for the minimum. If no provider in candidates could
// ever satisfy the estimate (it exceeds every capacity), returns an
// Unsatisfiable Defer.
func deferDecision(in Input, snap refinery.Snapshot, now time.Time, candidates []models.Provider, tripped []models.Provider) Decision {
	var earliest time.Time
	haveEarliest := false
	anySatisfiable := false

	for _, p := range candidates {
		v, ok := snap[p]
		if !ok {
			continue
		}
		if v.Capacity < in.EstimatedTokens {
			continue // can never satisfy, even at full window
		}
		anySatisfiable = true

		// A health band (Balanced/Conservative) can block admission even
		// when remaining already covers the estimate. That only clears on
		// the next window reset, same as capacity exhaustion — without
		// this, the candidate would get windowWait=0 and defer straight
		// back to now, churning every idle poll until the window resets.
		healthBlocks := v.Remaining >= in.EstimatedTokens && !canAdmit(v, in.Strategy, in.EstimatedTokens)

		windowWait := time.Duration(0)
		if v.Remaining < in.EstimatedTokens || healthBlocks {
			windowWait = v.WindowEnd.Sub(now)
			if windowWait < 0 {
				windowWait = 0
			}
		}
		wait := windowWait
		if v.RPMWaitUntil > wait {
			wait = v.RPMWaitUntil
		}
		candidate := now.Add(wait)
		if !haveEarliest || candidate.Before(earliest) {
			earliest = candidate
			haveEarliest = true
		}
	}

	if !anySatisfiable {
		return Decision{Kind: KindDefer, WakeAt: now, Unsatisfiable: true, TrippedProviders: tripped}
	}
	return Decision{Kind: KindDefer, WakeAt: earliest, TrippedProviders: tripped}
}

func trippedProviders(order []models.Provider, snap refinery.Snapshot) []models.Provider {
	var out []models.Provider
	for _, p := range order {
		if v, ok := snap[p]; ok && !v.CircuitAdmits {
			out = append(out, p)
		}
	}
	return out
}
