package retrieve

import "sync"

// Bus fans events out to subscriptions. Publish never blocks: every
// subscription buffers without bound until its consumer drains it.
type Bus struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*Subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscription receiving the events accepted by
// filter, every event when filter is nil.
func (b *Bus) Subscribe(filter func(Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &Subscription{
		bus:    b,
		id:     b.next,
		filter: filter,
		ready:  make(chan struct{}, 1),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers e to every matching subscription.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.filter == nil || sub.filter(e) {
			sub.push(e)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is a single-consumer FIFO of events.
type Subscription struct {
	bus    *Bus
	id     uint64
	filter func(Event) bool

	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	closed bool
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever events were queued since the last Drain.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns the queued events in publication order.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.queue
	s.queue = nil
	return events
}

// Close unsubscribes; events queued but not drained are discarded.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
