// Package client turns a push-based alert feed into an observable
// {alerts, isLoading, error} state for presentation code.
package client

import (
	"context"
	"sync"

	"github.com/mr1hm/city-alerts/internal/feed"
	"github.com/mr1hm/city-alerts/internal/models"
)

// Source is anything that can push alert snapshots: the in-process gateway
// or a remote transport.
type Source interface {
	Subscribe(ctx context.Context, l feed.Listener) (feed.Subscription, error)
}

type State struct {
	Alerts    []models.Alert `json:"alerts"`
	IsLoading bool           `json:"isLoading"`
	Error     string         `json:"error,omitempty"` // empty when there is no error
	Version   uint64         `json:"version"`
}

func (s State) clone() State {
	if s.Alerts != nil {
		s.Alerts = append([]models.Alert(nil), s.Alerts...)
	}
	return s
}

// Adapter keeps exactly one live subscription to its source while active.
type Adapter struct {
	source   Source
	onChange func(State)

	// subMu serializes Activate and Deactivate. Listener callbacks only take mu,
	// so releasing an old subscription never waits on a callback blocked here.
	subMu sync.Mutex
	sub   feed.Subscription

	mu    sync.Mutex
	state State
	gen   uint64
}

// NewAdapter returns an inactive adapter. onChange, if set, is called with a
// copy of the state after every change; it must not call Activate or
// Deactivate itself.
func NewAdapter(source Source, onChange func(State)) *Adapter {
	return &Adapter{
		source:   source,
		onChange: onChange,
		state:    State{IsLoading: true},
	}
}

// Activate subscribes to the source, releasing any previous subscription
// first. A setup failure is recorded in the state and also returned.
func (a *Adapter) Activate(ctx context.Context) error {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	a.release()

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.state.IsLoading = true
	st := a.state.clone()
	a.mu.Unlock()
	a.emit(st)

	sub, err := a.source.Subscribe(ctx, &listener{adapter: a, gen: gen})
	if err != nil {
		a.update(gen, func(s *State) {
			s.Error = err.Error()
			s.IsLoading = false
		})
		return err
	}
	a.sub = sub
	return nil
}

// Deactivate releases the subscription. Safe to call when inactive.
func (a *Adapter) Deactivate() {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	a.release()

	a.mu.Lock()
	a.gen++
	a.mu.Unlock()
}

// Run activates the adapter and keeps it active until ctx is done. The
// subscription is released on every return path.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.Deactivate()
	if err := a.Activate(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// State returns a copy of the current state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

func (a *Adapter) release() {
	if a.sub != nil {
		a.sub.Unsubscribe()
		a.sub = nil
	}
}

func (a *Adapter) update(gen uint64, fn func(s *State)) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	fn(&a.state)
	st := a.state.clone()
	a.mu.Unlock()
	a.emit(st)
}

func (a *Adapter) emit(st State) {
	if a.onChange != nil {
		a.onChange(st)
	}
}

// listener is bound to one activation; deliveries from older ones are ignored.
type listener struct {
	adapter *Adapter
	gen     uint64
}

func (l *listener) OnSnapshot(snap feed.Snapshot) {
	alerts := append([]models.Alert{}, snap.Alerts...)
	l.adapter.update(l.gen, func(s *State) {
		s.Alerts = alerts
		s.Version = snap.Version
		s.IsLoading = false
		s.Error = ""
	})
}

// OnError keeps the last alerts so callers can render a stale view.
func (l *listener) OnError(err error) {
	l.adapter.update(l.gen, func(s *State) {
		s.Error = err.Error()
		s.IsLoading = false
	})
}
