// Package realtime fans committed domain events out to the browser
// connections currently viewing each project. Rooms are ephemeral and
// in-memory: membership lives only for the process and connection
// lifetime, and a reconnecting client must re-announce its room.
package realtime

import (
	"context"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

// subscriber is the hub-facing side of a connection. trySend must never
// block; it reports false when the message was dropped.
type subscriber interface {
	trySend(data []byte) bool
}

// Hub is the room registry and broadcaster. A single dispatcher
// goroutine owns all membership state, so joins, leaves and publishes
// are serialized: delivery order within a room is the publish call
// order, and no locking is needed anywhere else.
type Hub struct {
	logger *log.Logger

	ops  chan func()
	done chan struct{}

	rooms  map[string]map[subscriber]struct{}
	joined map[subscriber]map[string]struct{}
}

// NewHub creates a hub whose dispatcher queue holds up to buffer
// pending operations.
func NewHub(logger *log.Logger, buffer int) *Hub {
	if logger == nil {
		panic("realtime.NewHub: logger is nil")
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		logger: logger,
		ops:    make(chan func(), buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]map[subscriber]struct{}),
		joined: make(map[subscriber]map[string]struct{}),
	}
}

// Run drains the dispatcher queue until ctx is cancelled. It must be
// running before any connection is accepted.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-h.ops:
			op()
		}
	}
}

// Join adds the subscriber to the room. Joining a room twice is a no-op.
// No authorization happens here: the join control message is
// unauthenticated on the wire, and REST-layer membership checks are the
// only gate (a known gap, kept as observed behavior).
func (h *Hub) Join(s subscriber, room string) {
	h.submit(func() {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[subscriber]struct{})
			h.rooms[room] = members
		}
		members[s] = struct{}{}
		rooms, ok := h.joined[s]
		if !ok {
			rooms = make(map[string]struct{})
			h.joined[s] = rooms
		}
		rooms[room] = struct{}{}
		h.logger.WithFields(log.Fields{"room": room, "members": len(members)}).Debug("room join")
	})
}

// Leave removes the subscriber from every room it belonged to. It is
// called on disconnect.
func (h *Hub) Leave(s subscriber) {
	h.submit(func() {
		for room := range h.joined[s] {
			members := h.rooms[room]
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		delete(h.joined, s)
	})
}

// Publish delivers the event to every current member of the room, in
// publish order, with no acknowledgment and no retry. It never blocks
// the caller: when the dispatcher queue is saturated the event is
// dropped with a warning. A room with no subscribers is a silent no-op.
func (h *Hub) Publish(room string, ev domain.Event) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Errorf("marshal %s event: %v", ev.Type, err)
		return
	}
	op := func() {
		for s := range h.rooms[room] {
			if !s.trySend(data) {
				h.logger.WithFields(log.Fields{"room": room, "type": ev.Type}).
					Warn("dropping event for slow consumer")
			}
		}
	}
	select {
	case h.ops <- op:
	case <-h.done:
	default:
		h.logger.WithFields(log.Fields{"room": room, "type": ev.Type}).
			Warn("dispatcher saturated, dropping event")
	}
}

// Members returns the number of connections currently in the room.
func (h *Hub) Members(room string) int {
	reply := make(chan int, 1)
	h.submit(func() { reply <- len(h.rooms[room]) })
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

func (h *Hub) submit(op func()) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}
