package eventbus

import (
	"strings"
	"sync"
	"time"
)

// Event is a fire-and-forget signal about a cycle, a delivery attempt or a
// background task. Type is a dotted topic such as "delivery.sent".
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and its drop counter is bumped.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Topic returns the first segment of Type ("delivery" for "delivery.sent").
func (e Event) Topic() string {
	topic, _, _ := strings.Cut(e.Type, ".")
	return topic
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events whose topic is one of
	// topics, or every event when none are given.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
}

// Stats is implemented by buses that count dropped events.
type Stats interface {
	Dropped() uint64
}

// New returns an in-memory fanout bus without background goroutines.
func New() *MemBus {
	return &MemBus{}
}

type subscriber struct {
	ch     chan Event
	topics map[string]struct{}
}

func (s *subscriber) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// MemBus is the in-process Bus.
type MemBus struct {
	// mu is held for reading during sends; unsubscribe closes under the
	// write lock so a send never hits a closed channel.
	mu      sync.RWMutex
	subs    []*subscriber
	dropped uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	topic := e.Topic()

	var missed uint64
	b.mu.RLock()
	for _, s := range b.subs {
		if !s.wants(topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			missed++
		}
	}
	b.mu.RUnlock()

	if missed > 0 {
		b.mu.Lock()
		b.dropped += missed
		b.mu.Unlock()
	}
}

func (b *MemBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[strings.TrimSuffix(t, ".")] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(s.ch)
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber
// buffer was full.
func (b *MemBus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
