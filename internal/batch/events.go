package batch

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/cwbudde/qpbridge/internal/store"
)

// Event is published whenever a job changes state.
type Event struct {
	JobID      string      `json:"jobId"`
	Path       string      `json:"path"`
	State      JobState    `json:"state"`
	Result     string      `json:"result,omitempty"`
	Cost       store.Float `json:"cost"`
	Iterations int         `json:"iterations"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

func eventOf(j Job) Event {
	return Event{
		JobID:      j.ID,
		Path:       j.Path,
		State:      j.State,
		Result:     j.Result,
		Cost:       j.Cost,
		Iterations: j.Iterations,
		Error:      j.Error,
		Timestamp:  time.Now(),
	}
}

// Broadcaster fans job events out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	log  logr.Logger
}

// NewBroadcaster creates a Broadcaster without subscribers.
func NewBroadcaster(log logr.Logger) *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{}), log: log}
}

// Subscribe returns a channel receiving every later event.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	b.subs[ch] = struct{}{}
	b.log.V(1).Info("Event subscriber added", "subscribers", len(b.subs))
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Broadcast sends ev to all subscribers.
func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.V(1).Info("Subscriber full, dropping event", "job_id", ev.JobID, "state", ev.State)
		}
	}
}
