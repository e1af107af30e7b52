package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mr1hm/city-alerts/internal/config"
	"github.com/mr1hm/city-alerts/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockFeed records appended drafts and answers source ref lookups from them.
type mockFeed struct {
	mu       sync.Mutex
	refs     map[string]bool
	drafts   []*models.Draft
	addCount atomic.Int64
}

func newMockFeed() *mockFeed {
	return &mockFeed{refs: make(map[string]bool)}
}

func (m *mockFeed) Append(ctx context.Context, d *models.Draft) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.SourceRef != "" {
		m.refs[d.SourceRef] = true
	}
	m.drafts = append(m.drafts, d)
	m.addCount.Add(1)
	return fmt.Sprintf("id_%d", len(m.drafts)), nil
}

func (m *mockFeed) ExistsBySourceRef(ctx context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[ref], nil
}

func testConfig(workers, buffer int) *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{
			Count:      workers,
			BufferSize: buffer,
		},
		Ingestion: config.IngestionConfig{
			USGSPollInterval:  time.Minute,
			GDACSPollInterval: time.Minute,
			USGSMinMagnitude:  4.5,
			AlertTTL:          6 * time.Hour,
		},
	}
}

func testDraft(ref string) *models.Draft {
	return &models.Draft{
		Type:      models.AlertTypeEarthquake,
		Message:   "M 5.0 - test",
		Location:  models.NewDraftLocation(1, 2),
		Severity:  models.SeverityMedium,
		CreatedBy: "test",
		SourceRef: ref,
	}
}

func TestManager_StartStop(t *testing.T) {
	mgr := NewManager(testConfig(2, 10), newMockFeed(), newMockFeed())

	ctx, cancel := context.WithCancel(context.Background())

	// Start should not block
	mgr.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	cancel()
	mgr.Stop()
}

func TestManager_ConcurrentSubmit(t *testing.T) {
	feed := newMockFeed()
	mgr := NewManager(testConfig(4, 100), feed, feed)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	var wg sync.WaitGroup
	numGoroutines := 10
	numPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numPerGoroutine; j++ {
				mgr.pool.Submit(testDraft(fmt.Sprintf("test:%d_%d", goroutineID, j)))
			}
		}(i)
	}

	wg.Wait()
	time.Sleep(200 * time.Millisecond)

	cancel()
	mgr.Stop()

	expected := numGoroutines * numPerGoroutine
	if actual := int(feed.addCount.Load()); actual != expected {
		t.Errorf("expected %d alerts added, got %d", expected, actual)
	}
}

func TestManager_SkipsKnownSourceRefs(t *testing.T) {
	feed := newMockFeed()
	mgr := NewManager(testConfig(1, 10), feed, feed)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	for i := 0; i < 3; i++ {
		mgr.pool.Submit(testDraft("usgs:abc"))
	}
	mgr.pool.Submit(testDraft("usgs:def"))

	time.Sleep(100 * time.Millisecond)
	cancel()
	mgr.Stop()

	if n := feed.addCount.Load(); n != 2 {
		t.Errorf("expected 2 alerts added, got %d", n)
	}
}

func TestManager_InvalidDraftDropped(t *testing.T) {
	feed := newMockFeed()
	mgr := NewManager(testConfig(1, 10), feed, feed)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	bad := testDraft("gdacs:EQ:1")
	bad.Message = ""
	mgr.pool.Submit(bad)
	mgr.pool.Submit(testDraft("gdacs:EQ:2"))

	time.Sleep(100 * time.Millisecond)
	cancel()
	mgr.Stop()

	if n := feed.addCount.Load(); n != 1 {
		t.Errorf("expected 1 alert added, got %d", n)
	}
}

func TestManager_GracefulShutdown(t *testing.T) {
	feed := newMockFeed()
	mgr := NewManager(testConfig(2, 100), feed, feed)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	for i := 0; i < 50; i++ {
		mgr.pool.Submit(testDraft(fmt.Sprintf("shutdown:%d", i)))
	}

	// Immediately cancel
	cancel()

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager.Stop() timed out - possible goroutine leak")
	}
}

const usgsBody = `{
  "features": [
    {"id": "us7000big", "properties": {"mag": 7.2, "place": "80 km S of Town", "time": %d, "title": "M 7.2 - 80 km S of Town", "tsunami": 1},
     "geometry": {"coordinates": [142.5, 38.3, 10.0]}},
    {"id": "us7000small", "properties": {"mag": 3.1, "place": "Nowhere", "time": %d, "title": "M 3.1 - Nowhere"},
     "geometry": {"coordinates": [1, 2, 3]}},
    {"id": "us7000old", "properties": {"mag": 6.1, "place": "Long ago", "time": %d, "title": "M 6.1 - Long ago"},
     "geometry": {"coordinates": [1, 2, 3]}},
    {"id": "us7000nogeo", "properties": {"mag": 6.0, "place": "Nowhere", "time": %d}, "geometry": {"coordinates": []}}
  ]
}`

func TestPollUSGS_MapsFeatures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute).UnixMilli()
	old := now.Add(-7 * time.Hour).UnixMilli()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, usgsBody, recent, recent, old, recent)
	}))
	defer srv.Close()

	mgr := NewManager(testConfig(1, 1), nil, nil)
	mgr.now = func() time.Time { return now }
	defer mgr.httpClient.CloseIdleConnections()

	drafts, err := mgr.pollUSGS(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}

	d := drafts[0]
	if d.Type != models.AlertTypeEarthquake || d.Severity != models.SeverityCritical {
		t.Errorf("unexpected type/severity: %s/%s", d.Type, d.Severity)
	}
	if *d.Location.Lat != 38.3 || *d.Location.Lng != 142.5 {
		t.Errorf("coordinates swapped: %v,%v", *d.Location.Lat, *d.Location.Lng)
	}
	if d.SourceRef != "usgs:us7000big" || d.CreatedBy != "usgs" {
		t.Errorf("unexpected source fields: %q %q", d.SourceRef, d.CreatedBy)
	}
	if d.Message != "M 7.2 - 80 km S of Town (tsunami possible)" {
		t.Errorf("unexpected message %q", d.Message)
	}
	wantExp := time.UnixMilli(recent).Add(6 * time.Hour).UTC()
	if d.ExpiresAt == nil || !d.ExpiresAt.Equal(wantExp) {
		t.Errorf("expected expiry %s, got %v", wantExp, d.ExpiresAt)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("draft should be valid: %v", err)
	}
}

func TestPollUSGS_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	mgr := NewManager(testConfig(1, 1), nil, nil)
	defer mgr.httpClient.CloseIdleConnections()

	if _, err := mgr.pollUSGS(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 503")
	}
}

const gdacsBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss xmlns:gdacs="http://www.gdacs.org" xmlns:georss="http://www.georss.org/georss" version="2.0">
  <channel>
    <item>
      <title>Red flood alert in Country A</title>
      <pubDate>%s</pubDate>
      <georss:point>10.5 20.25</georss:point>
      <gdacs:eventtype>FL</gdacs:eventtype>
      <gdacs:alertlevel>Red</gdacs:alertlevel>
      <gdacs:eventid>1001</gdacs:eventid>
      <gdacs:country>Country A, Country B</gdacs:country>
    </item>
    <item>
      <title>Green cyclone</title>
      <pubDate>%s</pubDate>
      <georss:point>-15 60</georss:point>
      <gdacs:eventtype>TC</gdacs:eventtype>
      <gdacs:alertlevel>Green</gdacs:alertlevel>
      <gdacs:eventid>1002</gdacs:eventid>
    </item>
    <item>
      <title>Volcano</title>
      <pubDate>%s</pubDate>
      <gdacs:eventtype>VO</gdacs:eventtype>
      <gdacs:alertlevel>Orange</gdacs:alertlevel>
      <gdacs:eventid>1003</gdacs:eventid>
    </item>
  </channel>
</rss>`

func TestPollGDACS_MapsItems(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := now.Add(-time.Hour).Format(time.RFC1123)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, gdacsBody, pub, pub, pub)
	}))
	defer srv.Close()

	mgr := NewManager(testConfig(1, 1), nil, nil)
	mgr.now = func() time.Time { return now }
	defer mgr.httpClient.CloseIdleConnections()

	drafts, err := mgr.pollGDACS(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts (volcano skipped), got %d", len(drafts))
	}

	flood := drafts[0]
	if flood.Type != models.AlertTypeFlood || flood.Severity != models.SeverityCritical {
		t.Errorf("unexpected flood mapping: %s/%s", flood.Type, flood.Severity)
	}
	if flood.SourceRef != "gdacs:FL:1001" {
		t.Errorf("unexpected source ref %q", flood.SourceRef)
	}
	if len(flood.AffectedAreas) != 2 || flood.AffectedAreas[1] != "Country B" {
		t.Errorf("unexpected areas %v", flood.AffectedAreas)
	}
	if *flood.Location.Lat != 10.5 || *flood.Location.Lng != 20.25 {
		t.Errorf("unexpected location %v,%v", *flood.Location.Lat, *flood.Location.Lng)
	}

	cyclone := drafts[1]
	if cyclone.Type != models.AlertTypeWeather || cyclone.Severity != models.SeverityLow {
		t.Errorf("unexpected cyclone mapping: %s/%s", cyclone.Type, cyclone.Severity)
	}
}

func TestParsePoint(t *testing.T) {
	lat, lon, ok := parsePoint(" -9.08 124.12 ")
	if !ok || lat != -9.08 || lon != 124.12 {
		t.Errorf("unexpected parse: %v %v %v", lat, lon, ok)
	}
	for _, bad := range []string{"", "1", "a b", "1 2 3"} {
		if _, _, ok := parsePoint(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestSeverityMapping(t *testing.T) {
	mags := map[float64]models.Severity{
		4.6: models.SeverityLow,
		5.0: models.SeverityMedium,
		6.5: models.SeverityHigh,
		7.0: models.SeverityCritical,
	}
	for mag, want := range mags {
		if got := magnitudeSeverity(mag); got != want {
			t.Errorf("magnitudeSeverity(%v) = %s, want %s", mag, got, want)
		}
	}

	levels := map[string]models.Severity{
		"Red":    models.SeverityCritical,
		"orange": models.SeverityHigh,
		"GREEN":  models.SeverityLow,
		"":       models.SeverityMedium,
	}
	for level, want := range levels {
		if got := alertLevelSeverity(level); got != want {
			t.Errorf("alertLevelSeverity(%q) = %s, want %s", level, got, want)
		}
	}
}

func TestManager_PollFeedsPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recent := time.Now().Add(-time.Minute).UnixMilli()
		fmt.Fprintf(w, usgsBody, recent, recent, recent, recent)
	}))
	defer srv.Close()

	feed := newMockFeed()
	cfg := testConfig(1, 10)
	cfg.Ingestion.USGSEnabled = true
	cfg.Ingestion.USGSURL = srv.URL
	mgr := NewManager(cfg, feed, feed)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	cancel()
	mgr.Stop()

	// big and old are above 4.5 and fresh enough; small and nogeo are skipped.
	if n := feed.addCount.Load(); n != 2 {
		t.Errorf("expected 2 alerts from initial poll, got %d", n)
	}
}
