package api

import (
	"sync"
	"time"

	"github.com/talgya/hexworld/internal/world"
)

// Event kinds published to stream subscribers.
const (
	EventChunkGenerated  = "chunk_generated"
	EventTemplateLoaded  = "template_loaded"
	EventTemplateRemoved = "template_removed"
	EventTemplateApplied = "template_applied"
	EventWorldSaved      = "world_saved"
)

// Event is a change to the served world.
type Event struct {
	Kind     string               `json:"kind"`
	Time     time.Time            `json:"time"`
	Chunk    *world.ChunkPosition `json:"chunk,omitempty"`
	Hex      *world.Position      `json:"hex,omitempty"`
	Template string               `json:"template,omitempty"`
	Detail   string               `json:"detail,omitempty"`
}

// hub fans events out to subscribers. Slow subscribers miss events rather
// than block publishers.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Event, 64)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

func (h *hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
