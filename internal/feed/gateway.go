// Package feed is the write path and live distribution layer for alerts.
// Writes go to the repository; every successful write is followed by a full
// snapshot of the active alerts pushed to all subscribers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/city-alerts/internal/metrics"
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/repository"
)

const (
	DefaultSnapshotLimit = 50
	DefaultRetryInterval = 2 * time.Second
	publishTimeout       = 5 * time.Second
)

// Snapshot is the complete set of active alerts at one point, newest first.
// Version increases with every published snapshot.
type Snapshot struct {
	Version uint64         `json:"version"`
	Alerts  []models.Alert `json:"alerts"`
}

// EventPublisher receives lifecycle events after they are stored.
type EventPublisher interface {
	AlertCreated(a models.Alert)
	StatusChanged(id string, status models.Status, at time.Time)
}

// AlertFeed is what the transports need from the gateway.
type AlertFeed interface {
	Append(ctx context.Context, draft *models.Draft) (string, error)
	SetStatus(ctx context.Context, id string, status models.Status) error
	Resolve(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Alert, error)
	Snapshot(ctx context.Context) (Snapshot, error)
	Subscribe(ctx context.Context, l Listener) (Subscription, error)
}

type Options struct {
	SnapshotLimit int
	// RetryInterval is how long to wait before rebuilding a snapshot whose
	// read failed.
	RetryInterval time.Duration
	Now           func() time.Time
	Publisher     EventPublisher
	Metrics       *metrics.Metrics
}

type Gateway struct {
	repo        repository.AlertRepository
	broadcaster *Broadcaster
	limit       int
	retryEvery  time.Duration
	now         func() time.Time
	publisher   EventPublisher
	metrics     *metrics.Metrics

	// publishMu orders snapshot reads with their broadcast so subscribers
	// never see an older snapshot after a newer one.
	publishMu sync.Mutex
	version   uint64

	// dirty is set while the last publish failed and a retry is scheduled.
	dirty  bool
	retry  *time.Timer
	closed bool
}

func NewGateway(repo repository.AlertRepository, opts Options) *Gateway {
	g := &Gateway{
		repo:        repo,
		broadcaster: NewBroadcaster(),
		limit:       opts.SnapshotLimit,
		retryEvery:  opts.RetryInterval,
		now:         opts.Now,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
	}
	if g.limit <= 0 {
		g.limit = DefaultSnapshotLimit
	}
	if g.retryEvery <= 0 {
		g.retryEvery = DefaultRetryInterval
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Append validates the draft, assigns id and timestamp, stores the alert as
// active and returns the new id.
func (g *Gateway) Append(ctx context.Context, draft *models.Draft) (string, error) {
	if draft == nil {
		return "", &models.ValidationError{Field: "alert", Reason: "is required"}
	}
	if err := draft.Validate(); err != nil {
		return "", err
	}

	alert := draft.ToAlert(uuid.NewString(), g.now().UTC())
	if err := g.repo.Add(ctx, &alert); err != nil {
		return "", err
	}

	slog.Info("alert created", "id", alert.ID, "type", alert.Type, "severity", alert.Severity)
	g.metrics.AlertCreated(string(alert.Type), string(alert.Severity))
	if g.publisher != nil {
		g.publisher.AlertCreated(alert)
	}

	g.publish(ctx)
	return alert.ID, nil
}

// SetStatus moves an alert to a terminal status.
func (g *Gateway) SetStatus(ctx context.Context, id string, status models.Status) error {
	if id == "" {
		return &models.ValidationError{Field: "id", Reason: "is required"}
	}
	if !status.Valid() {
		return &models.ValidationError{Field: "status", Reason: "must be one of active, resolved, expired"}
	}
	if !status.Terminal() {
		return &models.ValidationError{Field: "status", Reason: "can only move to resolved or expired"}
	}

	if err := g.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}

	slog.Info("alert status changed", "id", id, "status", status)
	g.metrics.StatusChanged(string(status))
	if g.publisher != nil {
		g.publisher.StatusChanged(id, status, g.now().UTC())
	}

	g.publish(ctx)
	return nil
}

func (g *Gateway) Resolve(ctx context.Context, id string) error {
	return g.SetStatus(ctx, id, models.StatusResolved)
}

func (g *Gateway) Get(ctx context.Context, id string) (*models.Alert, error) {
	return g.repo.GetByID(ctx, id)
}

// Snapshot returns the current active set without subscribing.
func (g *Gateway) Snapshot(ctx context.Context) (Snapshot, error) {
	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	alerts, err := g.activeAlerts(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: g.version, Alerts: alerts}, nil
}

// ExpireOverdue marks every active alert past its deadline as expired and
// returns how many were moved.
func (g *Gateway) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := g.repo.ListOverdue(ctx, g.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		err := g.SetStatus(ctx, id, models.StatusExpired)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, models.ErrTerminalStatus), errors.Is(err, models.ErrNotFound):
			// Resolved concurrently
		default:
			return expired, fmt.Errorf("error expiring alert %s: %w", id, err)
		}
	}
	return expired, nil
}

func (g *Gateway) SubscriberCount() int {
	return g.broadcaster.SubscriberCount()
}

// Close cancels a pending snapshot retry and ends every live subscription.
func (g *Gateway) Close() {
	g.publishMu.Lock()
	g.closed = true
	if g.retry != nil {
		g.retry.Stop()
		g.retry = nil
	}
	g.publishMu.Unlock()

	g.broadcaster.Close()
}

// activeAlerts reads the most recent records and keeps those that are
// active and unexpired, newest first.
func (g *Gateway) activeAlerts(ctx context.Context) ([]models.Alert, error) {
	recent, err := g.repo.ListRecent(ctx, g.limit)
	if err != nil {
		return nil, err
	}

	now := g.now()
	alerts := make([]models.Alert, 0, len(recent))
	for _, a := range recent {
		if a.IsActive(now) {
			alerts = append(alerts, a)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts, nil
}

// publish broadcasts a fresh snapshot. The write that triggered it has
// already succeeded, so failures only reach subscribers.
func (g *Gateway) publish(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	g.publishMu.Lock()
	defer g.publishMu.Unlock()
	g.publishLocked(ctx)
}

// publishLocked must be called with publishMu held. A failed read marks the
// gateway dirty and schedules a retry, so the change that triggered it still
// reaches subscribers once the store recovers.
func (g *Gateway) publishLocked(ctx context.Context) {
	alerts, err := g.activeAlerts(ctx)
	if err != nil {
		slog.Error("failed to build snapshot", "error", err)
		g.metrics.SnapshotFailed()
		g.broadcaster.Broadcast(Event{Err: err})
		g.dirty = true
		g.scheduleRetry()
		return
	}

	g.dirty = false
	g.version++
	g.broadcaster.Broadcast(Event{Snapshot: Snapshot{Version: g.version, Alerts: alerts}})
	g.metrics.SnapshotPublished()
	slog.Debug("snapshot published", "version", g.version, "alerts", len(alerts), "subscribers", g.broadcaster.SubscriberCount())
}

func (g *Gateway) scheduleRetry() {
	if g.closed || g.retry != nil {
		return
	}
	g.retry = time.AfterFunc(g.retryEvery, g.republish)
}

func (g *Gateway) republish() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	g.retry = nil
	if g.closed || !g.dirty {
		return
	}
	slog.Info("retrying snapshot publish")
	g.publishLocked(ctx)
}
