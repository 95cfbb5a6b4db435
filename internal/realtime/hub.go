// Package realtime fans session events out to connected sockets.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"live-session-service/internal/domain"
)

// DefaultSendBuffer is the per-subscriber queue length.
const DefaultSendBuffer = 64

// Frame is the JSON envelope written to sockets.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode marshals an event into a wire frame.
func Encode(name string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Type: name, Payload: payload})
}

// Subscriber is one socket's mailbox. Frames arrive on Messages until Done is
// closed, either because the socket went away or because it fell behind.
type Subscriber struct {
	send chan []byte
	done chan struct{}
	once sync.Once

	// guarded by Hub.mu
	sessions map[string]struct{}
}

func (s *Subscriber) Messages() <-chan []byte { return s.send }

func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Hub is the process-local broadcaster: a subscriber set per session.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscriber]struct{}
	buffer int
	log    *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
		log:    logger,
	}
}

// Subscribe registers a connection that has not joined any session yet.
func (h *Hub) Subscribe() *Subscriber {
	return &Subscriber{
		send:     make(chan []byte, h.buffer),
		done:     make(chan struct{}),
		sessions: make(map[string]struct{}),
	}
}

// Join adds the subscriber to a session's broadcast group.
func (h *Hub) Join(sub *Subscriber, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-sub.done:
		return
	default:
	}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[sessionID] = room
	}
	room[sub] = struct{}{}
	sub.sessions[sessionID] = struct{}{}
}

// Leave removes the subscriber from one session.
func (h *Hub) Leave(sub *Subscriber, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub, sessionID)
}

// Unsubscribe drops the subscriber from every session and closes Done.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub)
}

// Publish implements app.Publisher for a single-process deployment.
func (h *Hub) Publish(_ context.Context, sessionID string, event domain.Event) error {
	frame, err := Encode(event.Name, event.Payload)
	if err != nil {
		return err
	}
	h.Deliver(sessionID, frame)
	return nil
}

// Deliver queues an encoded frame for every subscriber of the session and
// returns how many accepted it. A subscriber whose queue is full is dropped;
// it has to reconnect and read a fresh snapshot.
func (h *Hub) Deliver(sessionID string, frame []byte) int {
	var slow []*Subscriber
	delivered := 0

	h.mu.RLock()
	for sub := range h.rooms[sessionID] {
		select {
		case sub.send <- frame:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, sub := range slow {
			h.dropLocked(sub)
		}
		h.mu.Unlock()
		h.log.Warn("dropped slow subscribers", "session_id", sessionID, "count", len(slow))
	}
	return delivered
}

// Subscribers returns the number of sockets joined to the session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		for sub := range room {
			h.dropLocked(sub)
		}
	}
}

func (h *Hub) leaveLocked(sub *Subscriber, sessionID string) {
	delete(sub.sessions, sessionID)
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

func (h *Hub) dropLocked(sub *Subscriber) {
	for sessionID := range sub.sessions {
		h.leaveLocked(sub, sessionID)
	}
	sub.stop()
}
