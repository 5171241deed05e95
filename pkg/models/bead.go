package models

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"
)

// BeadStatus is the tagged lifecycle state of a Bead. See §4.4 of the spec
// for the full transition table; transitions themselves are validated by
// internal/depot, not by this type.
type BeadStatus string

const (
	BeadPending    BeadStatus = "pending"
	BeadOptimizing BeadStatus = "optimizing"
	BeadQueued     BeadStatus = "queued"
	BeadAssigned   BeadStatus = "assigned"
	BeadDeferred   BeadStatus = "deferred"
	BeadInProgress BeadStatus = "in_progress"
	BeadReviewing  BeadStatus = "reviewing"
	BeadCompleted  BeadStatus = "completed"
	BeadFailed     BeadStatus = "failed"
	BeadCancelled  BeadStatus = "cancelled"
)

// Terminal reports whether status is one from which no further transition
// is possible.
func (s BeadStatus) Terminal() bool {
	switch s {
	case BeadCompleted, BeadFailed, BeadCancelled:
		return true
	default:
		return false
	}
}

var beadIDPattern = regexp.MustCompile(`^gt-[a-z0-9]{5}$`)

// ValidBeadID reports whether id matches the `gt-` + 5 lowercase-alphanumeric
// format required by spec §3/§6.
func ValidBeadID(id string) bool {
	return beadIDPattern.MatchString(id)
}

const beadIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewBeadID generates a fresh random BeadId in the `gt-xxxxx` format. Callers
// that need uniqueness guarantees (the Depot) retry on collision.
func NewBeadID() string {
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = beadIDAlphabet[rand.Intn(len(beadIDAlphabet))]
	}
	return "gt-" + string(suffix)
}

// Bead is a single unit of work: a prompt plus metadata and lifecycle state.
// It is mutated only through Depot lifecycle transitions (see internal/depot).
type Bead struct {
	EntityMetadata `json:",inline"`

	ID       string `json:"id"`
	ConvoyID string `json:"convoy_id,omitempty"`

	Title              string   `json:"title"`
	Description        string   `json:"description"`
	TaskType           TaskType `json:"task_type"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	OptimizedPrompt    string   `json:"optimized_prompt,omitempty"`
	Output             string   `json:"output,omitempty"`
	Error              string   `json:"error,omitempty"`

	Priority          Priority  `json:"priority"`
	PreferredProvider *Provider `json:"preferred_provider,omitempty"`
	AssignedProvider  *Provider `json:"assigned_provider,omitempty"`
	EstimatedTokens   uint64    `json:"estimated_tokens"`
	ActualTokens      *uint64   `json:"actual_tokens,omitempty"`
	Dependencies      []string  `json:"dependencies,omitempty"`

	Status        BeadStatus `json:"status"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DeferredUntil *time.Time `json:"deferred_until,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// CircuitTrippedProviders records providers Dispatch skipped this tick
	// because their breaker was open. Diagnostic only, never a scheduling input.
	CircuitTrippedProviders []Provider `json:"circuit_tripped_providers,omitempty"`
}

// NewBead constructs a Pending bead with a fresh id and the given priority
// (the Priority zero value is Low).
func NewBead(title, description string, taskType TaskType, priority Priority) *Bead {
	now := time.Now()
	return &Bead{
		EntityMetadata: NewEntityMetadata(BeadSchemaVersion),
		ID:             NewBeadID(),
		Title:          title,
		Description:    description,
		TaskType:       taskType,
		Priority:       priority,
		Status:         BeadPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CheckInvariants validates I1–I3 from spec §3. Returns the first violation
// found, or nil. I4 (no dependency cycle) is checked by the Depot on insert.
func (b *Bead) CheckInvariants() error {
	if b.Status == BeadDeferred {
		if b.DeferredUntil == nil {
			return fmt.Errorf("bead %s: I1 violated: deferred with no deferred_until", b.ID)
		}
		if !b.DeferredUntil.After(b.CreatedAt) {
			return fmt.Errorf("bead %s: I1 violated: deferred_until must be after created_at", b.ID)
		}
	}
	if b.Status == BeadInProgress || b.Status == BeadReviewing {
		if b.AssignedProvider == nil || b.StartedAt == nil {
			return fmt.Errorf("bead %s: I2 violated: %s requires assigned_provider and started_at", b.ID, b.Status)
		}
	}
	if b.Status == BeadCompleted {
		if b.ActualTokens == nil || b.CompletedAt == nil {
			return fmt.Errorf("bead %s: I3 violated: completed requires actual_tokens and completed_at", b.ID)
		}
	}
	return nil
}

// Ready reports whether every dependency in `completed` (a set of bead ids
// known to be Completed) covers this bead's full dependency list.
func (b *Bead) Ready(completed map[string]bool) bool {
	for _, dep := range b.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
