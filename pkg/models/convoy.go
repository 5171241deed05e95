package models

import (
	"time"

	"github.com/google/uuid"
)

// ConvoyStatus is the aggregate lifecycle status of a Convoy.
type ConvoyStatus string

const (
	ConvoyPlanning   ConvoyStatus = "planning"
	ConvoyQueued     ConvoyStatus = "queued"
	ConvoyInProgress ConvoyStatus = "in_progress"
	ConvoyPaused     ConvoyStatus = "paused"
	ConvoyCompleted  ConvoyStatus = "completed"
	ConvoyFailed     ConvoyStatus = "failed"
)

// Convoy is a group of related beads, typically produced by decomposing a
// goal via the Assayer's plan stage.
type Convoy struct {
	EntityMetadata `json:",inline"`

	ID    string `json:"id"`
	Name  string `json:"name"`
	Goal  string `json:"goal,omitempty"`
	Beads []string `json:"beads"`

	Status      ConvoyStatus      `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// NewConvoyID returns a fresh UUID-shaped convoy identifier.
func NewConvoyID() string {
	return uuid.NewString()
}

// NewConvoy constructs a Convoy in the Planning state.
func NewConvoy(name, goal string) *Convoy {
	return &Convoy{
		EntityMetadata: NewEntityMetadata(ConvoySchemaVersion),
		ID:             NewConvoyID(),
		Name:           name,
		Goal:           goal,
		Status:         ConvoyPlanning,
		Metadata:       make(map[string]string),
		CreatedAt:      time.Now(),
	}
}

// Progress reports completed_count / len(beads) given a lookup of bead
// statuses. Returns 0 for an empty convoy.
func (c *Convoy) Progress(statusOf func(beadID string) BeadStatus) float64 {
	if len(c.Beads) == 0 {
		return 0
	}
	completed := 0
	for _, id := range c.Beads {
		if statusOf(id) == BeadCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(c.Beads))
}

// DeriveStatus computes the aggregate status from constituent bead statuses,
// per spec §3: Completed iff every bead is Completed or Cancelled; Failed
// iff any bead failed terminally with no alternative routing remaining.
func DeriveStatus(statuses []BeadStatus) ConvoyStatus {
	if len(statuses) == 0 {
		return ConvoyPlanning
	}
	allTerminal := true
	anyFailed := false
	anyActive := false
	for _, s := range statuses {
		switch s {
		case BeadCompleted, BeadCancelled:
			// counts toward completion
		case BeadFailed:
			anyFailed = true
		default:
			allTerminal = false
		}
		if s == BeadAssigned || s == BeadInProgress || s == BeadReviewing {
			anyActive = true
		}
	}
	if allTerminal {
		if anyFailed {
			return ConvoyFailed
		}
		return ConvoyCompleted
	}
	if anyActive {
		return ConvoyInProgress
	}
	return ConvoyQueued
}
