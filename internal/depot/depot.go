// Package depot is the durable, priority-ordered store of beads: it
// partitions by status, enforces lifecycle transitions, and answers "what
// is the next schedulable bead" (spec §4.2). All mutation is serialized
// through a single writer goroutine draining a command channel, per §5.
package depot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jordanhubbard/rigs/internal/eventbus"
	"github.com/jordanhubbard/rigs/pkg/models"
)

// ErrDependencyCycle is returned by Insert when a bead's dependency set
// would introduce a cycle in the bead graph (I4).
var ErrDependencyCycle = errors.New("depot: dependency cycle")

// ErrIllegalTransition is returned by Mark for a transition not present in
// the state machine of §4.4.
var ErrIllegalTransition = errors.New("depot: illegal transition")

// Depot owns the in-memory bead set and writes through to Repository
// before any mutation is acknowledged.
type Depot struct {
	repo Repository
	bus  *eventbus.Bus // nil disables lifecycle event publication

	cmds chan command
	done chan struct{}

	// beads and its indexes are touched only by run(), the single writer.
	beads map[string]*models.Bead
}

type command struct {
	fn   func(d *Depot) (interface{}, error)
	resp chan cmdResult
}

type cmdResult struct {
	val interface{}
	err error
}

// New starts a Depot with an empty bead set, bound to repo for persistence.
// bus may be nil, in which case lifecycle transitions are never published.
// Use Recover to additionally load prior state and resume crashed beads.
func New(repo Repository, bus *eventbus.Bus) *Depot {
	d := &Depot{
		repo:  repo,
		bus:   bus,
		cmds:  make(chan command),
		done:  make(chan struct{}),
		beads: make(map[string]*models.Bead),
	}
	go d.run()
	return d
}

// Recover constructs a Depot, loads every bead from repo, and transitions
// any bead left in Assigned/InProgress/Reviewing back to Queued — the
// crash-recovery rule of §4.2 ("idempotent resume").
func Recover(ctx context.Context, repo Repository, bus *eventbus.Bus) (*Depot, error) {
	d := New(repo, bus)
	existing, err := repo.LoadAllBeads(ctx)
	if err != nil {
		return nil, fmt.Errorf("depot: recover: %w", err)
	}

	_, err = d.exec(func(dep *Depot) (interface{}, error) {
		now := time.Now()
		for _, b := range existing {
			cp := *b
			switch cp.Status {
			case models.BeadAssigned, models.BeadInProgress, models.BeadReviewing:
				cp.Status = models.BeadQueued
				cp.AssignedProvider = nil
				cp.StartedAt = nil
				cp.UpdatedAt = now
				if err := dep.repo.SaveBead(ctx, &cp); err != nil {
					return nil, err
				}
			}
			dep.beads[cp.ID] = &cp
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Close stops the writer goroutine.
func (d *Depot) Close() {
	close(d.done)
}

func (d *Depot) run() {
	for {
		select {
		case cmd := <-d.cmds:
			val, err := cmd.fn(d)
			cmd.resp <- cmdResult{val: val, err: err}
		case <-d.done:
			return
		}
	}
}

func (d *Depot) exec(fn func(d *Depot) (interface{}, error)) (interface{}, error) {
	resp := make(chan cmdResult, 1)
	d.cmds <- command{fn: fn, resp: resp}
	r := <-resp
	return r.val, r.err
}

// Insert validates invariants I1-I3 and the dependency graph (I4, rejecting
// cycles), then adds the bead and writes it through to storage.
func (d *Depot) Insert(ctx context.Context, b *models.Bead) error {
	_, err := d.exec(func(dep *Depot) (interface{}, error) {
		if err := b.CheckInvariants(); err != nil {
			return nil, err
		}
		if dep.wouldCycle(b) {
			return nil, ErrDependencyCycle
		}
		cp := *b
		dep.beads[cp.ID] = &cp
		if err := dep.repo.SaveBead(ctx, &cp); err != nil {
			return nil, err
		}
		dep.publish(eventbus.EventBeadCreated, &cp)
		return nil, nil
	})
	return err
}

// publish mirrors one bead's lifecycle event onto the bus, if configured.
// Called only from within exec()'s single-writer callback, so it never
// races with another transition.
func (d *Depot) publish(eventType eventbus.EventType, b *models.Bead) {
	if d.bus == nil {
		return
	}
	_ = d.bus.PublishBeadTransition(eventType, b)
}

// wouldCycle reports whether adding b (with its Dependencies) introduces a
// cycle into the existing bead graph, via DFS from b.
func (d *Depot) wouldCycle(b *models.Bead) bool {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	graph := make(map[string][]string, len(d.beads)+1)
	for id, existing := range d.beads {
		graph[id] = existing.Dependencies
	}
	graph[b.ID] = b.Dependencies

	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range graph[id] {
			if dfs(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}
	return dfs(b.ID)
}

// NextSchedulable returns the highest-priority Queued bead whose
// dependencies are all Completed, tie-broken priority desc, created_at
// asc, id asc.
func (d *Depot) NextSchedulable() (*models.Bead, bool) {
	val, _ := d.exec(func(dep *Depot) (interface{}, error) {
		completed := dep.completedSet()
		var best *models.Bead
		for _, b := range dep.beads {
			if b.Status != models.BeadQueued {
				continue
			}
			if !b.Ready(completed) {
				continue
			}
			if best == nil || lessSchedule(b, best) {
				best = b
			}
		}
		if best == nil {
			return (*models.Bead)(nil), nil
		}
		cp := *best
		return &cp, nil
	})
	bead, _ := val.(*models.Bead)
	return bead, bead != nil
}

func (d *Depot) completedSet() map[string]bool {
	set := make(map[string]bool, len(d.beads))
	for id, b := range d.beads {
		if b.Status == models.BeadCompleted {
			set[id] = true
		}
	}
	return set
}

func lessSchedule(a, b *models.Bead) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Mark applies a lifecycle transition, running mutate (if non-nil) against
// the bead before the new status and invariants are validated and the
// result is persisted. Rejects transitions absent from the §4.4 table.
func (d *Depot) Mark(ctx context.Context, beadID string, to models.BeadStatus, mutate func(b *models.Bead)) error {
	_, err := d.exec(func(dep *Depot) (interface{}, error) {
		b, ok := dep.beads[beadID]
		if !ok {
			return nil, ErrNotFound
		}
		if !isLegalTransition(b.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, b.Status, to)
		}
		cp := *b
		if mutate != nil {
			mutate(&cp)
		}
		cp.Status = to
		cp.UpdatedAt = time.Now()
		if err := cp.CheckInvariants(); err != nil {
			return nil, err
		}
		dep.beads[cp.ID] = &cp
		if err := dep.repo.SaveBead(ctx, &cp); err != nil {
			return nil, err
		}
		dep.publish(beadEventType(to), &cp)

		if to == models.BeadFailed || to == models.BeadCancelled {
			if err := dep.cascadeDependencyFailure(ctx, cp.ID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// beadEventType maps a lifecycle status to the most specific eventbus
// EventType describing it; any other status is a generic status change.
func beadEventType(status models.BeadStatus) eventbus.EventType {
	switch status {
	case models.BeadCompleted:
		return eventbus.EventBeadCompleted
	case models.BeadFailed:
		return eventbus.EventBeadFailed
	default:
		return eventbus.EventBeadStatusChange
	}
}

// cascadeDependencyFailure auto-transitions any non-terminal bead that
// depends on failedID to Cancelled, recursively, per §4.2.
func (d *Depot) cascadeDependencyFailure(ctx context.Context, failedID string) error {
	for _, b := range d.beads {
		if b.Status.Terminal() {
			continue
		}
		dependsOnFailed := false
		for _, dep := range b.Dependencies {
			if dep == failedID {
				dependsOnFailed = true
				break
			}
		}
		if !dependsOnFailed {
			continue
		}
		cp := *b
		cp.Status = models.BeadCancelled
		cp.Error = fmt.Sprintf("dependency %s failed", failedID)
		cp.UpdatedAt = time.Now()
		d.beads[cp.ID] = &cp
		if err := d.repo.SaveBead(ctx, &cp); err != nil {
			return err
		}
		d.publish(eventbus.EventBeadStatusChange, &cp)
		if err := d.cascadeDependencyFailure(ctx, cp.ID); err != nil {
			return err
		}
	}
	return nil
}

// Defer transitions a bead to Deferred with the given wake time.
func (d *Depot) Defer(ctx context.Context, beadID string, until time.Time) error {
	return d.Mark(ctx, beadID, models.BeadDeferred, func(b *models.Bead) {
		b.DeferredUntil = &until
	})
}

// PromoteReady moves every Deferred bead whose DeferredUntil <= now back
// to Queued.
func (d *Depot) PromoteReady(ctx context.Context, now time.Time) (int, error) {
	val, err := d.exec(func(dep *Depot) (interface{}, error) {
		var ids []string
		for id, b := range dep.beads {
			if b.Status == models.BeadDeferred && b.DeferredUntil != nil && !b.DeferredUntil.After(now) {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			b := dep.beads[id]
			cp := *b
			cp.Status = models.BeadQueued
			cp.DeferredUntil = nil
			cp.UpdatedAt = now
			dep.beads[id] = &cp
			if err := dep.repo.SaveBead(ctx, &cp); err != nil {
				return nil, err
			}
		}
		return len(ids), nil
	})
	if err != nil {
		return 0, err
	}
	return val.(int), nil
}

// Get returns a copy of one bead.
func (d *Depot) Get(beadID string) (*models.Bead, bool) {
	val, _ := d.exec(func(dep *Depot) (interface{}, error) {
		b, ok := dep.beads[beadID]
		if !ok {
			return (*models.Bead)(nil), nil
		}
		cp := *b
		return &cp, nil
	})
	bead, _ := val.(*models.Bead)
	return bead, bead != nil
}

// ListByStatus returns every bead with the given status, ordered by
// priority desc, created_at asc, id asc.
func (d *Depot) ListByStatus(status models.BeadStatus) []*models.Bead {
	val, _ := d.exec(func(dep *Depot) (interface{}, error) {
		var out []*models.Bead
		for _, b := range dep.beads {
			if b.Status == status {
				cp := *b
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return lessSchedule(out[i], out[j]) })
		return out, nil
	})
	out, _ := val.([]*models.Bead)
	return out
}

// ListByConvoy returns every bead belonging to convoyID.
func (d *Depot) ListByConvoy(convoyID string) []*models.Bead {
	val, _ := d.exec(func(dep *Depot) (interface{}, error) {
		var out []*models.Bead
		for _, b := range dep.beads {
			if b.ConvoyID == convoyID {
				cp := *b
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return lessSchedule(out[i], out[j]) })
		return out, nil
	})
	out, _ := val.([]*models.Bead)
	return out
}

// GetPendingOrdered returns every Pending bead, schedule-ordered.
func (d *Depot) GetPendingOrdered() []*models.Bead {
	return d.ListByStatus(models.BeadPending)
}

// CountByStatus returns the number of beads currently in each lifecycle
// status, for the /metrics beads-by-status gauge.
func (d *Depot) CountByStatus() map[models.BeadStatus]int {
	val, _ := d.exec(func(dep *Depot) (interface{}, error) {
		counts := make(map[models.BeadStatus]int)
		for _, b := range dep.beads {
			counts[b.Status]++
		}
		return counts, nil
	})
	counts, _ := val.(map[models.BeadStatus]int)
	return counts
}
