package notify

import (
	"sync"
	"time"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/jobs"
)

// Event is one status-stream message.
type Event struct {
	JobID       string            `json:"job_id"`
	Owner       string            `json:"-"`
	Status      jobs.Status       `json:"status"`
	Progress    float64           `json:"progress"`
	Chunks      jobs.ChunkSummary `json:"chunks"`
	DownloadURL string            `json:"download_url,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Error       *failure.Cause    `json:"error,omitempty"`
	Warning     *failure.Cause    `json:"warning,omitempty"`
	At          time.Time         `json:"at"`
}

// Terminal reports whether the event closes the job's stream.
func (e Event) Terminal() bool {
	return e.Status.Terminal()
}

// Broker fans events out to subscribers. A subscriber that falls behind
// loses events rather than blocking publishers.
type Broker struct {
	buffer int

	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{buffer: buffer, subs: make(map[uint64]chan Event)}
}

// Subscribe returns an event channel and a func that unsubscribes and closes it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
