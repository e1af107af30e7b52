package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically expires overdue alerts so that subscribers receive a
// snapshot without them.
type Sweeper struct {
	gateway  *Gateway
	interval time.Duration
	wg       sync.WaitGroup
}

func NewSweeper(gateway *Gateway, interval time.Duration) *Sweeper {
	return &Sweeper{
		gateway:  gateway,
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	slog.Info("starting expiry sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.gateway.ExpireOverdue(ctx)
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired overdue alerts", "count", n)
	}
}

// Stop waits for the sweeper to exit after its context is cancelled.
func (s *Sweeper) Stop() {
	s.wg.Wait()
}
