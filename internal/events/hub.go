package events

import (
	"context"
	"sync"
)

// Hub fans events out to in-process subscribers keyed by user.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*hubSubscriber
	nextID      int64
	bufferSize  int
}

type hubSubscriber struct {
	id     int64
	stream chan Event
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int64]*hubSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the user until ctx ends or the returned cleanup runs.
func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &hubSubscriber{
		id:     h.nextSequence(),
		stream: make(chan Event, h.bufferSize),
	}
	h.register(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { h.unregister(userID, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements Publisher. Slow subscribers miss events rather than block the sender.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.UserID == "" || event.Type == "" {
		return nil
	}
	h.mu.RLock()
	subscribers := h.subscribers[event.UserID]
	copies := make([]*hubSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	h.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
	return nil
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(userID string, subscriber *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[userID]; !ok {
		h.subscribers[userID] = make(map[int64]*hubSubscriber)
	}
	h.subscribers[userID][subscriber.id] = subscriber
}

func (h *Hub) unregister(userID string, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, userID)
		}
	}
	h.mu.Unlock()
}
