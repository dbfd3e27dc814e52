// Package events fans UI notifications out to Server-Sent Events clients.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Event is one named UI message with a JSON payload.
type Event struct {
	Name    string
	Payload string
}

type subscription struct {
	ch    chan Event
	names []string
}

// Broker routes events by name. A subscription either names the events it
// wants or receives all of them. A subscriber whose buffer is full misses
// the event and the miss is counted against the event name.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int64]*subscription
	all    map[int64]chan Event
	byName map[string]map[int64]chan Event
	nextID atomic.Int64

	dropMu  sync.Mutex
	dropped map[string]int64
}

func NewBroker() *Broker {
	return &Broker{
		subs:    make(map[int64]*subscription),
		all:     make(map[int64]chan Event),
		byName:  make(map[string]map[int64]chan Event),
		dropped: make(map[string]int64),
	}
}

// Subscribe registers a client for the given event names, or for every event
// when names is empty. It returns the subscription id and receive channel.
func (b *Broker) Subscribe(names ...string) (int64, <-chan Event) {
	id := b.nextID.Add(1)
	sub := &subscription{ch: make(chan Event, subscriberBufSize)}
	for _, n := range names {
		if n != "" && !slices.Contains(sub.names, n) {
			sub.names = append(sub.names, n)
		}
	}

	b.mu.Lock()
	b.subs[id] = sub
	if len(sub.names) == 0 {
		b.all[id] = sub.ch
	}
	for _, n := range sub.names {
		set := b.byName[n]
		if set == nil {
			set = make(map[int64]chan Event)
			b.byName[n] = set
		}
		set[id] = sub.ch
	}
	b.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	delete(b.all, id)
	for _, n := range sub.names {
		if set := b.byName[n]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(b.byName, n)
			}
		}
	}
	close(sub.ch)
}

// Wants reports whether any subscriber would receive an event with this name.
func (b *Broker) Wants(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.all) > 0 || len(b.byName[name]) > 0
}

// Publish never blocks.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	var missed int64
	for _, ch := range b.all {
		if !offer(ch, evt) {
			missed++
		}
	}
	for _, ch := range b.byName[evt.Name] {
		if !offer(ch, evt) {
			missed++
		}
	}
	b.mu.RUnlock()

	if missed > 0 {
		b.dropMu.Lock()
		b.dropped[evt.Name] += missed
		b.dropMu.Unlock()
	}
}

func offer(ch chan Event, evt Event) bool {
	select {
	case ch <- evt:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers,
// summed over the given event names or over every name when none are given.
func (b *Broker) Dropped(names ...string) int64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	var total int64
	if len(names) == 0 {
		for _, n := range b.dropped {
			total += n
		}
		return total
	}
	for _, name := range names {
		total += b.dropped[name]
	}
	return total
}
