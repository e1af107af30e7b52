package feed

import (
	"sync"
	"sync/atomic"
)

// Event is one delivery to a subscriber: either a full snapshot or a
// transport error raised while building one.
type Event struct {
	Snapshot Snapshot
	Err      error
}

// inbox holds at most one pending snapshot and one pending error. A newer
// snapshot replaces an undelivered older one and any error queued before it,
// so slow subscribers skip straight to the latest snapshot. An error never
// displaces a pending snapshot; it is delivered first.
type inbox struct {
	mu       sync.Mutex
	snapshot *Snapshot
	err      error
	ready    chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func newInbox() *inbox {
	return &inbox{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (in *inbox) put(ev Event) {
	in.mu.Lock()
	if ev.Err != nil {
		in.err = ev.Err
	} else {
		snap := ev.Snapshot
		in.snapshot = &snap
		in.err = nil
	}
	in.mu.Unlock()

	select {
	case in.ready <- struct{}{}:
	default:
	}
}

func (in *inbox) take() (Event, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err != nil {
		err := in.err
		in.err = nil
		return Event{Err: err}, true
	}
	if in.snapshot == nil {
		return Event{}, false
	}
	ev := Event{Snapshot: *in.snapshot}
	in.snapshot = nil
	return ev, true
}

func (in *inbox) close() {
	in.once.Do(func() { close(in.closed) })
}

type Broadcaster struct {
	subscribers map[uint64]*inbox
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]*inbox),
	}
}

func (b *Broadcaster) Subscribe() (uint64, *inbox) {
	id := b.nextID.Add(1)
	in := newInbox()

	b.mu.Lock()
	b.subscribers[id] = in
	b.mu.Unlock()

	return id, in
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if in, ok := b.subscribers[id]; ok {
		in.close()
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, in := range b.subscribers {
		in.put(ev)
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every inbox, ending all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, in := range b.subscribers {
		in.close()
		delete(b.subscribers, id)
	}
}
