// Package eventbus is the in-process pub/sub fabric for bead-lifecycle and
// tank-health notifications, with an optional NATS transport for operators
// running more than one rigsd replica against the same Postgres store.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// EventType enumerates the kinds of change rigs publishes.
type EventType string

const (
	EventBeadCreated       EventType = "bead.created"
	EventBeadStatusChange  EventType = "bead.status_change"
	EventBeadCompleted     EventType = "bead.completed"
	EventBeadFailed        EventType = "bead.failed"
	EventTankHealthChange  EventType = "tank.health_change"
	EventTankCircuitChange EventType = "tank.circuit_change"
	EventConvoyStatusChange EventType = "convoy.status_change"
)

// Event is one published notification.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	BeadID    string         `json:"bead_id,omitempty"`
	ConvoyID  string         `json:"convoy_id,omitempty"`
	Provider  models.Provider `json:"provider,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber is a single listener with an optional filter.
type Subscriber struct {
	ID      string
	Channel chan *Event
	Filter  func(*Event) bool
}

// Transport is an optional outbound publisher (e.g. NATS) the Bus mirrors
// every event to in addition to local subscribers.
type Transport interface {
	Publish(ctx context.Context, event *Event) error
}

// Bus is an in-process, buffered event bus. Zero value is not usable; build
// with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	buffer      chan *Event
	transport   Transport

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Bus with the given internal buffer size (0 defaults to
// 1000) and an optional Transport for cross-process fan-out.
func New(bufferSize int, transport Transport) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[string]*Subscriber),
		buffer:      make(chan *Event, bufferSize),
		transport:   transport,
		ctx:         ctx,
		cancel:      cancel,
	}
	go b.loop()
	return b
}

// Publish enqueues event for distribution, stamping ID/Timestamp if unset.
// Returns an error only if the internal buffer is full (backpressure the
// caller should log and drop, not block on — publishing is diagnostic, never
// load-bearing for scheduling).
func (b *Bus) Publish(event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("%s-%d", event.Type, time.Now().UnixNano())
	}
	select {
	case b.buffer <- event:
		return nil
	default:
		return fmt.Errorf("eventbus: buffer full, dropping %s event %s", event.Type, event.ID)
	}
}

// PublishBeadTransition is a convenience wrapper for the Foreman/Depot's
// most common event shape.
func (b *Bus) PublishBeadTransition(eventType EventType, bead *models.Bead) error {
	return b.Publish(&Event{
		Type:     eventType,
		BeadID:   bead.ID,
		ConvoyID: bead.ConvoyID,
		Data: map[string]any{
			"status": string(bead.Status),
		},
	})
}

// PublishTankChange is a convenience wrapper for Refinery health/circuit
// transitions.
func (b *Bus) PublishTankChange(eventType EventType, tank models.Tank) error {
	return b.Publish(&Event{
		Type:     eventType,
		Provider: tank.Provider,
		Data: map[string]any{
			"health":        string(tank.Health),
			"circuit_state": string(tank.CircuitState),
			"remaining":     tank.Remaining,
			"capacity":      tank.Capacity,
		},
	})
}

// Subscribe registers a subscriber with a buffered-100 channel. Re-calling
// with an id already subscribed returns the existing Subscriber.
func (b *Bus) Subscribe(id string, filter func(*Event) bool) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		return sub
	}
	sub := &Subscriber{ID: id, Channel: make(chan *Event, 100), Filter: filter}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.Channel)
		delete(b.subscribers, id)
	}
}

func (b *Bus) loop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.buffer:
			b.distribute(event)
		}
	}
}

func (b *Bus) distribute(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}
		select {
		case sub.Channel <- event:
		default:
			// subscriber channel full; drop rather than block distribution
		}
	}

	if b.transport != nil {
		if err := b.transport.Publish(b.ctx, event); err != nil {
			// transport errors never block local delivery
			_ = err
		}
	}
}

// Close stops the distribution loop and closes every subscriber channel.
func (b *Bus) Close() {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		close(sub.Channel)
	}
	b.subscribers = make(map[string]*Subscriber)
}
