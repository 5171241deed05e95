package polecat

import (
	"context"
	"time"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// MockAdapter is a deterministic Adapter for tests and local development:
// it returns EstimatedTokens as ActualTokens and "mock output for: " plus
// the bead's title as output, after a configurable simulated delay.
type MockAdapter struct {
	Delay   time.Duration
	FailNext *Error
}

// NewMockAdapter returns a MockAdapter with no artificial delay.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (m *MockAdapter) Execute(ctx context.Context, bead *models.Bead) (*Result, error) {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return nil, err
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, &Error{Kind: Timeout, Message: ctx.Err().Error()}
		}
	}

	return &Result{
		ActualTokens: bead.EstimatedTokens,
		Output:       "mock output for: " + bead.Title,
		DurationMS:   uint64(m.Delay.Milliseconds()),
	}, nil
}
