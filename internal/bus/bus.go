// Package bus fans build, queue and agent events out to in-process
// listeners. Delivery is best-effort; the store stays the source of truth
// for every status, so a listener that falls behind loses events rather
// than slowing a build loop down.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

type Event struct {
	Topic   string
	Payload any
}

// Scoped is implemented by payloads that belong to one project.
type Scoped interface {
	Project() string
}

// ProjectOf returns the payload's project, or "" for global events such
// as config reloads.
func ProjectOf(payload any) string {
	if s, ok := payload.(Scoped); ok {
		return s.Project()
	}
	return ""
}

type Subscription struct {
	id      int
	prefix  string
	project string
	ch      chan Event
	dropped atomic.Uint64
}

func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Dropped counts events discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(ev Event) bool {
	if s.prefix != "" && !strings.HasPrefix(ev.Topic, s.prefix) {
		return false
	}
	if s.project == "" {
		return true
	}
	p := ProjectOf(ev.Payload)
	return p == "" || p == s.project
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for events whose topic starts with topicPrefix. An
// empty prefix matches everything.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	return b.SubscribeProject(topicPrefix, "")
}

// SubscribeProject is Subscribe limited to one project's events. Global
// events are still delivered. An empty projectID matches every project.
func (b *Bus) SubscribeProject(topicPrefix, projectID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		prefix:  topicPrefix,
		project: projectID,
		ch:      make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish never blocks. A nil Bus is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
