package stream

import (
	"context"
	"sync"
	"time"
)

// Event is one push message delivered to stream subscribers (SSE clients).
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// BuyerRoom names the room receiving buyer-side events for an auction.
func BuyerRoom(auctionID string) string { return "buyer:" + auctionID }

// SupplierRoom names the private room for one supplier token.
func SupplierRoom(token string) string { return "supplier:" + token }

type subscriber struct {
	room string
	ch   chan Event
}

// Hub fan-outs auction events to room subscribers. A buyer watches the
// buyer room of their auction; each supplier watches the room keyed by
// their own token, so rank positions of competitors never leak.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber on a room and returns a channel which
// will receive events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, room string) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{room: room, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers of the room.
func (h *Hub) Publish(room string, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.room != room {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of active subscriptions across all rooms.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// NotifyBuyer publishes an event to the auction's buyer room.
func (h *Hub) NotifyBuyer(auctionID, eventType string, data any) {
	h.Publish(BuyerRoom(auctionID), Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// NotifySupplier publishes an event to a single supplier's room.
func (h *Hub) NotifySupplier(token, eventType string, data any) {
	h.Publish(SupplierRoom(token), Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
