package events

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

const defaultSubscriberBuffer = 16

// Hub is an in-process broadcaster. A subscriber whose buffer is full misses
// the event rather than stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan types.ScanLog
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan types.ScanLog)}
}

// Subscribe returns a channel of future logs and a cancel func that closes
// it. Cancel is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan types.ScanLog, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan types.ScanLog, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(_ context.Context, log types.ScanLog) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- log:
		default:
		}
	}
	return nil
}
