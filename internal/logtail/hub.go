package logtail

import (
	"sync"
	"time"
)

// Chunk is a bounded batch of log lines emitted as one unit to subscribers.
// Chunks for a stream are sequence-numbered in production order.
type Chunk struct {
	DeploymentID string    `json:"deployment_id"`
	Seq          uint64    `json:"seq"`
	Lines        []string  `json:"lines"`
	Bytes        int       `json:"bytes"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hub fans chunks out to per-deployment subscribers over bounded channels.
// A slow subscriber loses chunks rather than stalling the stream.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Chunk]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Chunk]struct{})}
}

// Subscribe returns a bounded receive channel for a deployment's chunks and
// a cancel func that must be called exactly once.
func (h *Hub) Subscribe(deploymentID string, buffer int) (<-chan Chunk, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Chunk, buffer)
	h.mu.Lock()
	if _, ok := h.subs[deploymentID]; !ok {
		h.subs[deploymentID] = make(map[chan Chunk]struct{})
	}
	h.subs[deploymentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[deploymentID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, deploymentID)
				}
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers a chunk to every subscriber without blocking; full
// subscriber queues drop the chunk for that subscriber.
func (h *Hub) Publish(chunk Chunk) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[chunk.DeploymentID] {
		select {
		case ch <- chunk:
		default:
		}
	}
}
