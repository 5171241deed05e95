// Package polecat defines the per-provider worker contract: given an
// assigned bead, call the provider and return the result or a classified
// error (spec §6 provider adapter contract, §7 error taxonomy).
package polecat

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// ErrorKind classifies a provider failure for Foreman's lifecycle decision.
type ErrorKind string

const (
	RateLimited ErrorKind = "rate_limited"
	Transient   ErrorKind = "transient"
	Permanent   ErrorKind = "permanent"
	Timeout     ErrorKind = "timeout"
)

// Error is the classified failure an Adapter returns. Foreman branches on
// Kind, never on Message text.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("polecat: %s: %s", e.Kind, e.Message)
}

// Result is a successful Execute outcome.
type Result struct {
	ActualTokens uint64
	Output       string
	DurationMS   uint64
}

// Adapter executes one bead against a specific provider.
type Adapter interface {
	Execute(ctx context.Context, bead *models.Bead) (*Result, error)
}
