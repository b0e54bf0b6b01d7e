package keeper

import (
	"sync"
	"time"
)

const defaultEventCapacity = 100

type Event struct {
	Time    time.Time `json:"time"`
	AssetID string    `json:"asset_id,omitempty"`
	Kind    string    `json:"kind"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Message string    `json:"message"`
}

// Events keeps the most recent keeper events in a fixed ring.
type Events struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

func NewEvents(capacity int) *Events {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &Events{buf: make([]Event, capacity)}
}

func (e *Events) Add(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf[e.next] = ev
	e.next = (e.next + 1) % len(e.buf)
	if e.count < len(e.buf) {
		e.count++
	}
}

// List returns the retained events, oldest first.
func (e *Events) List() []Event {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, 0, e.count)
	start := (e.next - e.count + len(e.buf)) % len(e.buf)
	for i := 0; i < e.count; i++ {
		out = append(out, e.buf[(start+i)%len(e.buf)])
	}
	return out
}
