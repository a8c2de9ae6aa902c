// Package events fans out pool lifecycle events to in-process subscribers
// and, optionally, mirrors them to Redis Pub/Sub for external consumers
// (the dashboard, an ops CLI, another service watching the pool). The Hub
// itself never blocks the publisher on a slow subscriber: each subscriber
// gets its own bounded buffer, and a full buffer drops the event rather
// than stall the dispatch loop that published it.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/logger"
	"github.com/nodalcore/poolsupervisor/internal/supervisor"
)

// EventType is the wire-level name used once an event leaves the pool
// (subscriber channel payload, Redis message) — the same string values as
// the supervisor.Event* constants.
type EventType = string

// Event is the fanned-out shape: a supervisor.Event plus the wall-clock
// time the Hub observed it.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	WorkerID  string                 `json:"worker_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

func fromSupervisor(e supervisor.Event) *Event {
	return &Event{
		Type:      e.Type,
		Timestamp: time.Now().UTC(),
		WorkerID:  e.WorkerID,
		TaskID:    e.TaskID,
		Detail:    e.Detail,
	}
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event, as received off a Redis mirror channel.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

const defaultSubscriberBuffer = 100

type subscriber struct {
	ch     chan *Event
	filter map[EventType]bool // nil means "all types"
}

func (s *subscriber) wants(t EventType) bool {
	if s.filter == nil {
		return true
	}
	return s.filter[t]
}

// Hub is an in-process publish/subscribe fan-out implementing
// supervisor.Sink. The supervisor's dispatch loop calls Publish directly
// and must never observe backpressure from it.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int

	mirror Mirror
}

// Mirror forwards events to an external system. RedisMirror is the
// production implementation; nil is the zero value used when no mirror is
// configured.
type Mirror interface {
	Publish(ctx context.Context, event *Event) error
}

// New builds an empty Hub. A nil mirror disables external mirroring.
func New(mirror Mirror) *Hub {
	return &Hub{subscribers: make(map[int]*subscriber), bufferSize: defaultSubscriberBuffer, mirror: mirror}
}

// Publish implements supervisor.Sink. It must never block: each
// subscriber has its own bounded channel, and a full channel causes that
// subscriber (and only that subscriber) to drop the event.
func (h *Hub) Publish(e supervisor.Event) {
	evt := fromSupervisor(e)

	h.mu.RLock()
	for id, sub := range h.subscribers {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			logger.WithComponent("events").Warn().
				Int("subscriber_id", id).
				Str("event_type", string(evt.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
	h.mu.RUnlock()

	if h.mirror != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.mirror.Publish(ctx, evt); err != nil {
				logger.WithComponent("events").Warn().Err(err).Msg("failed to mirror event")
			}
		}()
	}
}

// Subscription is a live subscriber handle. Events arrives on C; Close
// unregisters the subscriber and closes C.
type Subscription struct {
	C <-chan *Event

	hub *Hub
	id  int
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if sub, ok := s.hub.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.hub.subscribers, s.id)
	}
}

// Subscribe registers a new subscriber. When eventTypes is empty the
// subscriber receives every event type.
func (h *Hub) Subscribe(eventTypes ...EventType) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	var filter map[EventType]bool
	if len(eventTypes) > 0 {
		filter = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			filter[t] = true
		}
	}

	sub := &subscriber{ch: make(chan *Event, h.bufferSize), filter: filter}
	h.nextID++
	id := h.nextID
	h.subscribers[id] = sub

	return &Subscription{C: sub.ch, hub: h, id: id}
}

// SubscriberCount reports the number of live subscriptions, for metrics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
