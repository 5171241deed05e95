package depot

import (
	"context"
	"errors"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// ErrNotFound is returned by Depot operations that name a bead id the Depot
// does not hold.
var ErrNotFound = errors.New("depot: bead not found")

// Repository is the persistence contract the Depot writes through before
// acknowledging any mutation (§4.2 "every transition is written through to
// durable storage before returning success"). internal/storage provides a
// Postgres-backed implementation; this package also ships an in-memory one
// for tests.
type Repository interface {
	SaveBead(ctx context.Context, bead *models.Bead) error
	LoadAllBeads(ctx context.Context) ([]*models.Bead, error)
}

// MemoryRepository is an in-memory Repository, used by tests and by
// rigsd when run without a configured database.
type MemoryRepository struct {
	beads map[string]*models.Bead
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{beads: make(map[string]*models.Bead)}
}

func (m *MemoryRepository) SaveBead(ctx context.Context, bead *models.Bead) error {
	cp := *bead
	m.beads[bead.ID] = &cp
	return nil
}

func (m *MemoryRepository) LoadAllBeads(ctx context.Context) ([]*models.Bead, error) {
	out := make([]*models.Bead, 0, len(m.beads))
	for _, b := range m.beads {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}
