package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/repository"
)

// flakyRepo wraps the SQLite store and can fail reads on demand.
type flakyRepo struct {
	repository.AlertRepository
	failList atomic.Bool
}

func (r *flakyRepo) ListRecent(ctx context.Context, limit int) ([]models.Alert, error) {
	if r.failList.Load() {
		return nil, models.NewTransportError("list alerts", errors.New("connection refused"))
	}
	return r.AlertRepository.ListRecent(ctx, limit)
}

type recorder struct {
	snaps chan Snapshot
	errs  chan error
}

func newRecorder() *recorder {
	return &recorder{
		snaps: make(chan Snapshot, 64),
		errs:  make(chan error, 64),
	}
}

func (r *recorder) OnSnapshot(s Snapshot) { r.snaps <- s }
func (r *recorder) OnError(err error)     { r.errs <- err }

// next waits for a snapshot matching pred.
func (r *recorder) next(t *testing.T, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.snaps:
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timeout waiting for snapshot")
			return Snapshot{}
		}
	}
}

func hasAlerts(n int) func(Snapshot) bool {
	return func(s Snapshot) bool { return len(s.Alerts) == n }
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupGateway(t *testing.T) (*Gateway, *flakyRepo, *clock) {
	t.Helper()
	return setupGatewayWith(t, Options{})
}

func setupGatewayWith(t *testing.T, opts Options) (*Gateway, *flakyRepo, *clock) {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	repo := &flakyRepo{AlertRepository: db}
	clk := &clock{now: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	g := NewGateway(repo, opts)
	t.Cleanup(func() {
		g.Close()
		db.Close()
	})
	return g, repo, clk
}

func fireDraft() *models.Draft {
	return &models.Draft{
		Type:     models.AlertTypeFire,
		Severity: models.SeverityCritical,
		Message:  "Building fire",
		Location: models.NewDraftLocation(14.6, 121.0),
	}
}

func TestGateway_AppendDeliversToSubscriber(t *testing.T) {
	g, _, clk := setupGateway(t)
	ctx := context.Background()

	rec := newRecorder()
	sub, err := g.Subscribe(ctx, rec)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Immediate delivery of the (empty) current state
	first := rec.next(t, func(Snapshot) bool { return true })
	if len(first.Alerts) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d alerts", len(first.Alerts))
	}

	id, err := g.Append(ctx, fireDraft())
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected an id")
	}

	snap := rec.next(t, hasAlerts(1))
	got := snap.Alerts[0]
	if got.ID != id {
		t.Errorf("expected id %s, got %s", id, got.ID)
	}
	if got.Status != models.StatusActive {
		t.Errorf("expected status active, got %s", got.Status)
	}
	if !got.Timestamp.Equal(clk.Now()) {
		t.Errorf("expected server timestamp %s, got %s", clk.Now(), got.Timestamp)
	}
	if snap.Version <= first.Version {
		t.Errorf("expected version to increase, got %d after %d", snap.Version, first.Version)
	}
}

func TestGateway_AppendForcesActive(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	d := fireDraft()
	d.Status = models.StatusResolved
	id, err := g.Append(ctx, d)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	a, err := g.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Status != models.StatusActive {
		t.Errorf("expected active, got %s", a.Status)
	}
}

func TestGateway_AppendRejectsInvalidDraft(t *testing.T) {
	g, _, _ := setupGateway(t)

	d := fireDraft()
	d.Location = nil
	if _, err := g.Append(context.Background(), d); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := g.Append(context.Background(), nil); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for nil draft, got %v", err)
	}

	snap, err := g.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Alerts) != 0 {
		t.Errorf("invalid draft must not be stored, got %d alerts", len(snap.Alerts))
	}
}

func TestGateway_UniqueIDs(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		ids = make(map[string]bool)
		wg  sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.Append(ctx, fireDraft())
			if err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 40 {
		t.Errorf("expected 40 distinct ids, got %d", len(ids))
	}
}

func TestGateway_ResolveRemovesFromSnapshot(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	id, _ := g.Append(ctx, fireDraft())
	other, _ := g.Append(ctx, fireDraft())

	rec := newRecorder()
	sub, err := g.Subscribe(ctx, rec)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	rec.next(t, hasAlerts(2))

	if err := g.Resolve(ctx, id); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	snap := rec.next(t, hasAlerts(1))
	if snap.Alerts[0].ID != other {
		t.Errorf("expected remaining alert %s, got %s", other, snap.Alerts[0].ID)
	}
}

func TestGateway_StatusIsMonotonic(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	id, _ := g.Append(ctx, fireDraft())
	if err := g.SetStatus(ctx, id, models.StatusExpired); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if err := g.SetStatus(ctx, id, models.StatusActive); !errors.Is(err, models.ErrValidation) {
		t.Errorf("moving back to active: expected ErrValidation, got %v", err)
	}
	if err := g.Resolve(ctx, id); !errors.Is(err, models.ErrTerminalStatus) {
		t.Errorf("resolving an expired alert: expected ErrTerminalStatus, got %v", err)
	}

	a, _ := g.Get(ctx, id)
	if a.Status != models.StatusExpired {
		t.Errorf("expected expired, got %s", a.Status)
	}
}

func TestGateway_ResolveUnknownID(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	id, _ := g.Append(ctx, fireDraft())

	if err := g.Resolve(ctx, "x"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	snap, err := g.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Alerts) != 1 || snap.Alerts[0].ID != id {
		t.Errorf("feed should be unaffected, got %+v", snap.Alerts)
	}
}

func TestGateway_SnapshotLimitAndOrder(t *testing.T) {
	g, _, clk := setupGateway(t)
	ctx := context.Background()

	var last string
	for i := 0; i < 55; i++ {
		clk.Advance(time.Second)
		id, err := g.Append(ctx, fireDraft())
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		last = id
	}

	snap, err := g.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Alerts) != DefaultSnapshotLimit {
		t.Fatalf("expected %d alerts, got %d", DefaultSnapshotLimit, len(snap.Alerts))
	}
	if snap.Alerts[0].ID != last {
		t.Errorf("expected newest alert first")
	}
	for i := 1; i < len(snap.Alerts); i++ {
		if snap.Alerts[i].Timestamp.After(snap.Alerts[i-1].Timestamp) {
			t.Fatalf("snapshot not newest first at %d", i)
		}
	}
}

func TestGateway_ExpiredAlertsHiddenOnRead(t *testing.T) {
	g, _, clk := setupGateway(t)
	ctx := context.Background()

	d := fireDraft()
	exp := clk.Now().Add(time.Minute)
	d.ExpiresAt = &exp
	id, _ := g.Append(ctx, d)

	snap, _ := g.Snapshot(ctx)
	if len(snap.Alerts) != 1 {
		t.Fatalf("expected alert visible before deadline")
	}

	clk.Advance(2 * time.Minute)

	snap, _ = g.Snapshot(ctx)
	if len(snap.Alerts) != 0 {
		t.Errorf("expected expired alert hidden, got %d", len(snap.Alerts))
	}

	// Status is still stored as active until swept
	a, _ := g.Get(ctx, id)
	if a.Status != models.StatusActive {
		t.Errorf("expected stored status active, got %s", a.Status)
	}
}

func TestGateway_ExpireOverdue(t *testing.T) {
	g, _, clk := setupGateway(t)
	ctx := context.Background()

	d := fireDraft()
	exp := clk.Now().Add(time.Minute)
	d.ExpiresAt = &exp
	id, _ := g.Append(ctx, d)
	keep, _ := g.Append(ctx, fireDraft())

	clk.Advance(time.Hour)

	n, err := g.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}

	a, _ := g.Get(ctx, id)
	if a.Status != models.StatusExpired {
		t.Errorf("expected expired, got %s", a.Status)
	}
	b, _ := g.Get(ctx, keep)
	if b.Status != models.StatusActive {
		t.Errorf("expected untouched alert active, got %s", b.Status)
	}

	n, _ = g.ExpireOverdue(ctx)
	if n != 0 {
		t.Errorf("second sweep should expire nothing, got %d", n)
	}
}

func TestGateway_SubscribeFailsCleanly(t *testing.T) {
	g, repo, _ := setupGateway(t)

	repo.failList.Store(true)
	sub, err := g.Subscribe(context.Background(), newRecorder())
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if sub != nil {
		t.Error("expected nil subscription on failure")
	}
	if g.SubscriberCount() != 0 {
		t.Errorf("failed subscribe leaked a subscriber: %d", g.SubscriberCount())
	}
}

func TestGateway_PublishFailureReachesSubscribers(t *testing.T) {
	g, repo, _ := setupGateway(t)
	ctx := context.Background()

	rec := newRecorder()
	sub, err := g.Subscribe(ctx, rec)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	rec.next(t, hasAlerts(0))

	repo.failList.Store(true)
	// The write itself succeeds; only the snapshot read fails
	if _, err := g.Append(ctx, fireDraft()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	select {
	case err := <-rec.errs:
		if !errors.Is(err, models.ErrTransport) {
			t.Errorf("expected ErrTransport, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error delivery")
	}

	// Recovery resumes deliveries without resubscribing
	repo.failList.Store(false)
	if _, err := g.Append(ctx, fireDraft()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	rec.next(t, hasAlerts(2))
}

func TestGateway_RetriesFailedPublish(t *testing.T) {
	g, repo, _ := setupGatewayWith(t, Options{RetryInterval: 20 * time.Millisecond})
	ctx := context.Background()

	rec := newRecorder()
	sub, err := g.Subscribe(ctx, rec)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	rec.next(t, hasAlerts(0))

	repo.failList.Store(true)
	if _, err := g.Append(ctx, fireDraft()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	select {
	case <-rec.errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error delivery")
	}

	// No further writes: the retry alone must deliver the new alert
	repo.failList.Store(false)
	rec.next(t, hasAlerts(1))
}

// blockingListener holds its first delivery until release is closed.
type blockingListener struct {
	*recorder
	release chan struct{}
	once    sync.Once
}

func (l *blockingListener) OnSnapshot(s Snapshot) {
	l.once.Do(func() { <-l.release })
	l.recorder.OnSnapshot(s)
}

func TestGateway_ErrorDoesNotDropPendingSnapshot(t *testing.T) {
	// Long retry so only the queued snapshot can carry the first alert
	g, repo, _ := setupGatewayWith(t, Options{RetryInterval: time.Hour})
	ctx := context.Background()

	l := &blockingListener{recorder: newRecorder(), release: make(chan struct{})}
	sub, err := g.Subscribe(ctx, l)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	first, err := g.Append(ctx, fireDraft())
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	repo.failList.Store(true)
	if _, err := g.Append(ctx, fireDraft()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	repo.failList.Store(false)
	close(l.release)

	select {
	case err := <-l.errs:
		if !errors.Is(err, models.ErrTransport) {
			t.Errorf("expected ErrTransport, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error delivery")
	}

	snap := l.next(t, hasAlerts(1))
	if snap.Alerts[0].ID != first {
		t.Errorf("expected snapshot with %s, got %+v", first, snap.Alerts)
	}
}

func TestGateway_NoDeliveryAfterUnsubscribe(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	var calls atomic.Int64
	sub, err := g.Subscribe(ctx, ListenerFuncs{Snapshot: func(Snapshot) { calls.Add(1) }})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	sub.Unsubscribe()
	sub.Unsubscribe()
	after := calls.Load()

	for i := 0; i < 5; i++ {
		if _, err := g.Append(ctx, fireDraft()); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != after {
		t.Errorf("expected no deliveries after unsubscribe, got %d more", calls.Load()-after)
	}
	if g.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", g.SubscriberCount())
	}
}

func TestGateway_DeliveriesAreOrdered(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		versions []uint64
	)
	sub, err := g.Subscribe(ctx, ListenerFuncs{Snapshot: func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Append(ctx, fireDraft())
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		if versions[i] < versions[i-1] {
			t.Fatalf("out of order delivery: %v", versions)
		}
	}
	if len(versions) == 0 || versions[len(versions)-1] != 20 {
		t.Errorf("expected final delivery to be version 20, got %v", versions)
	}
}

func TestGateway_CloseEndsSubscriptions(t *testing.T) {
	g, _, _ := setupGateway(t)

	sub, err := g.Subscribe(context.Background(), newRecorder())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	g.Close()

	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe after Close blocked")
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	created []string
	changed []models.Status
}

func (p *capturePublisher) AlertCreated(a models.Alert) {
	p.mu.Lock()
	p.created = append(p.created, a.ID)
	p.mu.Unlock()
}

func (p *capturePublisher) StatusChanged(id string, status models.Status, at time.Time) {
	p.mu.Lock()
	p.changed = append(p.changed, status)
	p.mu.Unlock()
}

func TestGateway_PublishesLifecycleEvents(t *testing.T) {
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	pub := &capturePublisher{}
	g := NewGateway(db, Options{Publisher: pub})
	defer g.Close()

	ctx := context.Background()
	id, _ := g.Append(ctx, fireDraft())
	g.Resolve(ctx, id)
	g.Resolve(ctx, id) // rejected, not published

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.created) != 1 || pub.created[0] != id {
		t.Errorf("expected one created event for %s, got %v", id, pub.created)
	}
	if len(pub.changed) != 1 || pub.changed[0] != models.StatusResolved {
		t.Errorf("expected one resolved event, got %v", pub.changed)
	}
}
