// Package bus delivers tenant-scoped events to connected subscribers with
// at-most-once, ordering-per-sender semantics.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flowforge/platform/pkg/logger"
	"github.com/flowforge/platform/pkg/pgnotify"
)

// Observable event kinds. Both carry no payload: subscribers re-read the
// relevant collection on receipt.
const (
	EventNotifications = "notifications:update"
	EventIntegrations  = "integrations:update"
)

// DefaultQueueDepth bounds the per-subscriber queue. The oldest event is
// dropped for a slow consumer; the upstream publisher never blocks.
const DefaultQueueDepth = 64

// Event is what a subscriber receives.
type Event struct {
	Type string `json:"type"`
}

// Subscriber is one connected client in a room. Receive from C until it is
// closed.
type Subscriber struct {
	C     chan Event
	room  string
	depth int
}

// Hub fans events out to org-scoped rooms. Rooms are single-writer: one
// dispatch goroutine per room forwards to all of that room's subscribers, so
// a slow consumer in one room cannot block another room.
type Hub struct {
	log        *logger.Logger
	queueDepth int

	mu    sync.Mutex
	rooms map[string]*room
	done  bool
}

type room struct {
	name string
	ch   chan Event

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("bus")
	}
	return &Hub{
		log:        log,
		queueDepth: DefaultQueueDepth,
		rooms:      make(map[string]*room),
	}
}

// RoomName returns the canonical room key for an org.
func RoomName(orgID string) string {
	return fmt.Sprintf("org:%s", orgID)
}

// Subscribe joins the org's room. The returned subscriber's channel is closed
// on Unsubscribe or hub shutdown.
func (h *Hub) Subscribe(orgID string) *Subscriber {
	name := RoomName(orgID)

	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		sub := &Subscriber{C: make(chan Event)}
		close(sub.C)
		return sub
	}
	rm, ok := h.rooms[name]
	if !ok {
		rm = &room{
			name: name,
			ch:   make(chan Event, h.queueDepth),
			subs: make(map[*Subscriber]struct{}),
		}
		h.rooms[name] = rm
		go rm.dispatch()
	}
	h.mu.Unlock()

	sub := &Subscriber{
		C:     make(chan Event, h.queueDepth),
		room:  name,
		depth: h.queueDepth,
	}
	rm.mu.Lock()
	rm.subs[sub] = struct{}{}
	rm.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	rm, ok := h.rooms[sub.room]
	h.mu.Unlock()
	if !ok {
		return
	}
	rm.mu.Lock()
	if _, present := rm.subs[sub]; present {
		delete(rm.subs, sub)
		close(sub.C)
	}
	rm.mu.Unlock()
}

// Broadcast publishes an event to every subscriber in the org's room. It
// never blocks: the room queue also drops oldest under pressure. The hub lock
// is held across the non-blocking send so Close cannot tear the room down
// mid-publish.
func (h *Hub) Broadcast(orgID, eventType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[RoomName(orgID)]
	if !ok {
		return
	}
	ev := Event{Type: eventType}
	select {
	case rm.ch <- ev:
	default:
		select {
		case <-rm.ch:
		default:
		}
		select {
		case rm.ch <- ev:
		default:
		}
	}
}

// Close tears down every room and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	rooms := make([]*room, 0, len(h.rooms))
	for _, rm := range h.rooms {
		rooms = append(rooms, rm)
	}
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, rm := range rooms {
		close(rm.ch)
	}
}

func (rm *room) dispatch() {
	for ev := range rm.ch {
		rm.mu.Lock()
		for sub := range rm.subs {
			sub.push(ev)
		}
		rm.mu.Unlock()
	}
	rm.mu.Lock()
	for sub := range rm.subs {
		delete(rm.subs, sub)
		close(sub.C)
	}
	rm.mu.Unlock()
}

// push enqueues without blocking, dropping the oldest queued event when the
// subscriber is saturated.
func (sub *Subscriber) push(ev Event) {
	select {
	case sub.C <- ev:
		return
	default:
	}
	select {
	case <-sub.C:
	default:
	}
	select {
	case sub.C <- ev:
	default:
	}
}

// notifyPayload is the shape emitted by the notifications insert trigger.
type notifyPayload struct {
	OrgID string `json:"org_id"`
	Type  string `json:"type"`
}

// BindListener wires the store's notifications_channel into the hub.
func (h *Hub) BindListener(listener *pgnotify.Listener) {
	listener.Subscribe("notifications_channel", func(_ context.Context, n pgnotify.Notification) {
		var payload notifyPayload
		if err := json.Unmarshal(n.Payload, &payload); err != nil || payload.OrgID == "" {
			h.log.WithField("payload", string(n.Payload)).Warn("discard malformed store notification")
			return
		}
		h.Broadcast(payload.OrgID, EventNotifications)
	})
}
