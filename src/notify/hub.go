package notify

import (
	"sync"

	logger "github.com/sirupsen/logrus"

	"futuresbot/src/model"
)

// Hub fans order updates out to subscribers. Publishing never blocks: a subscriber whose buffer
// is full misses the update and picks the state up on its next poll.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan model.OrderRecord
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 64
	}
	return &Hub{subs: map[int]chan model.OrderRecord{}, buffer: buffer}
}

// Publish delivers rec to every subscriber that has room.
func (h *Hub) Publish(rec model.OrderRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			logger.WithFields(map[string]interface{}{
				"subscriber": id,
				"order_id":   rec.ExchangeOrderID,
			}).Debug("Subscriber buffer full, dropping order update")
		}
	}
}

// Subscribe returns a channel of updates and a function that unsubscribes and closes it.
func (h *Hub) Subscribe() (<-chan model.OrderRecord, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan model.OrderRecord, h.buffer)
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
