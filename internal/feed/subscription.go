package feed

import (
	"context"
	"sync"
)

// Listener receives deliveries for one subscription, one at a time and in
// order, on a goroutine owned by the subscription.
type Listener interface {
	OnSnapshot(s Snapshot)
	OnError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Snapshot func(s Snapshot)
	Error    func(err error)
}

func (l ListenerFuncs) OnSnapshot(s Snapshot) {
	if l.Snapshot != nil {
		l.Snapshot(s)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// Subscription is released with Unsubscribe. It is safe to call more than
// once; after the first call returns no further deliveries happen. It must not
// be called from inside the subscription's own Listener.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	broadcaster *Broadcaster
	id          uint64
	in          *inbox
	stop        chan struct{}
	done        chan struct{}
	once        sync.Once
}

// Subscribe registers l and queues the current snapshot as its first
// delivery. ctx only bounds that initial read. If it fails, nothing stays
// registered and the error is returned.
func (g *Gateway) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	id, in := g.broadcaster.Subscribe()

	g.publishMu.Lock()
	alerts, err := g.activeAlerts(ctx)
	if err != nil {
		g.publishMu.Unlock()
		g.broadcaster.Unsubscribe(id)
		return nil, err
	}
	in.put(Event{Snapshot: Snapshot{Version: g.version, Alerts: alerts}})
	g.publishMu.Unlock()

	s := &subscription{
		broadcaster: g.broadcaster,
		id:          id,
		in:          in,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.run(l)
	return s, nil
}

func (s *subscription) run(l Listener) {
	defer close(s.done)

	var (
		delivered bool
		last      uint64
	)
	for {
		select {
		case <-s.stop:
			return
		case <-s.in.closed:
			return
		case <-s.in.ready:
		}

		for {
			ev, ok := s.in.take()
			if !ok {
				break
			}

			select {
			case <-s.stop:
				return
			default:
			}

			if ev.Err != nil {
				l.OnError(ev.Err)
				continue
			}
			if delivered && ev.Snapshot.Version < last {
				continue
			}
			delivered, last = true, ev.Snapshot.Version
			l.OnSnapshot(ev.Snapshot)
		}
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.broadcaster.Unsubscribe(s.id)
	})
	<-s.done
}
