package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEventBufferFull is returned by Publish when the queue is saturated.
	ErrEventBufferFull = errors.New("event buffer full, event dropped")

	// ErrPublisherClosed is returned by Publish after Shutdown.
	ErrPublisherClosed = errors.New("event publisher closed")
)

// Event is a notification trigger point, published once per committed
// workflow action.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`

	// Action is the audit action, e.g. CONTRACT_APPROVED.
	Action string `json:"action"`

	ContractID string `json:"contract_id"`
	TrackID    string `json:"track_id,omitempty"`
	TrackType  string `json:"track_type,omitempty"`
	ActorID    string `json:"actor_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Comment    string `json:"comment,omitempty"`
}

// EventHandler consumes events on the publisher goroutine.
type EventHandler func(Event)

// EventPublisher queues events and hands them to subscribers from a single
// background goroutine, in publish order. Publish never blocks.
type EventPublisher struct {
	queue chan Event
	stop  chan struct{}
	done  chan struct{}

	// sendMu orders enqueues before the close of stop, so the drain loop
	// sees every event Publish accepted.
	sendMu sync.RWMutex
	closed bool

	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventPublisher starts a publisher. A disabled publisher accepts and
// discards every event.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	p := &EventPublisher{handlers: make(map[string][]EventHandler)}
	if !cfg.Enabled {
		return p
	}
	p.queue = make(chan Event, cfg.BufferSize)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run()
	return p
}

// Subscribe registers h for the given actions, or for every action when
// none are given.
func (p *EventPublisher) Subscribe(h EventHandler, actions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(actions) == 0 {
		actions = []string{""}
	}
	for _, a := range actions {
		p.handlers[a] = append(p.handlers[a], h)
	}
}

// Publish enqueues ev, filling in its id and timestamp.
func (p *EventPublisher) Publish(ev Event) error {
	if p.queue == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		return ErrEventBufferFull
	}
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-p.stop:
			for {
				select {
				case ev := <-p.queue:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) deliver(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ev.Action != "" {
		for _, h := range p.handlers[ev.Action] {
			h(ev)
		}
	}
	for _, h := range p.handlers[""] {
		h(ev)
	}
}

// Shutdown stops accepting events and waits until the queue is drained.
func (p *EventPublisher) Shutdown(ctx context.Context) error {
	if p.queue == nil {
		return nil
	}
	p.sendMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.sendMu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
