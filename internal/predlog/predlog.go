// Package predlog keeps a bounded, in-memory record of recent predictions
// for the admin panel.
package predlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 200

// Entry is a snapshot of one successful prediction.
type Entry struct {
	ID         string         `json:"id"`
	Time       time.Time      `json:"time"`
	Source     string         `json:"source"`
	Prediction string         `json:"prediction"`
	Proba      []float64      `json:"proba"`
	Classes    []string       `json:"classes"`
	Input      map[string]any `json:"input"`
}

// Sink receives every appended entry, e.g. for durable storage.
type Sink interface {
	SavePrediction(e Entry) error
}

// Log is a fixed-capacity ring buffer; the oldest entry is evicted first.
// It is safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	buf   []Entry
	start int
	size  int

	sink   Sink
	subs   map[int]chan Entry
	nextID int
	logger *slog.Logger
}

// New creates a Log holding at most capacity entries. sink may be nil.
func New(capacity int, sink Sink) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:    make([]Entry, capacity),
		sink:   sink,
		subs:   make(map[int]chan Entry),
		logger: slog.Default(),
	}
}

// Capacity returns the maximum number of retained entries.
func (l *Log) Capacity() int { return len(l.buf) }

// Append records e, filling ID and Time when unset.
func (l *Log) Append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	l.mu.Lock()
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = e
		l.size++
	} else {
		l.buf[l.start] = e
		l.start = (l.start + 1) % len(l.buf)
	}
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.SavePrediction(e); err != nil {
			l.logger.Warn("persisting prediction log entry failed", "id", e.ID, "error", err)
		}
	}
	return e
}

// Items returns the retained entries, oldest first.
func (l *Log) Items() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Clear drops all retained entries. The sink is not touched.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.start, l.size = 0, 0
}

// Subscribe returns a channel that receives entries appended from now on.
// A subscriber that falls more than buffer entries behind misses entries.
// cancel must be called to release the subscription.
func (l *Log) Subscribe(buffer int) (entries <-chan Entry, cancel func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Entry, buffer)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
