package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mr1hm/city-alerts/internal/feed"
	"github.com/mr1hm/city-alerts/internal/metrics"
	"github.com/mr1hm/city-alerts/internal/models"
)

type Options struct {
	RecencyWindow time.Duration
	Now           func() time.Time
	Metrics       *metrics.Metrics
	// Timeout bounds a single Show call. Zero means 10s.
	Timeout time.Duration
}

// Dispatcher inspects each delivered snapshot and notifies about its newest
// alert when that alert is fresh and permission has been granted.
type Dispatcher struct {
	gate    *Gate
	sink    Sink
	window  time.Duration
	now     func() time.Time
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewDispatcher(gate *Gate, sink Sink, opts Options) *Dispatcher {
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = DefaultRecencyWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		gate:    gate,
		sink:    sink,
		window:  opts.RecencyWindow,
		now:     opts.Now,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
	}
}

// Handle considers alerts[0], the newest alert of a delivery. It reports
// whether a notification was shown. Failures are logged and swallowed.
func (d *Dispatcher) Handle(ctx context.Context, alerts []models.Alert) bool {
	if len(alerts) == 0 {
		return false
	}
	newest := alerts[0]

	// Negative ages come from producer clocks running ahead and count as fresh.
	if newest.Age(d.now()) >= d.window {
		d.metrics.NotificationSuppressed("stale")
		return false
	}

	ok, err := d.gate.Request(ctx)
	if err != nil {
		slog.Warn("Notification permission request failed", "error", err)
		d.metrics.NotificationSuppressed("permission_error")
		return false
	}
	if !ok {
		d.metrics.NotificationSuppressed("denied")
		return false
	}

	n := Build(newest)
	showCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sink.Show(showCtx, n); err != nil {
		if errors.Is(err, ErrCoalesced) {
			d.metrics.NotificationSuppressed("coalesced")
			return false
		}
		nerr := &NotificationError{Tag: n.Tag, Err: err}
		slog.Warn("Failed to show notification", "error", nerr)
		d.metrics.NotificationFailed()
		return false
	}

	d.metrics.NotificationShown(string(newest.Severity))
	slog.Debug("Notification shown", "alert_id", newest.ID, "severity", newest.Severity)
	return true
}

// Listener adapts the dispatcher to a feed subscription. Errors from the
// feed are ignored since they carry no alert.
func (d *Dispatcher) Listener(ctx context.Context) feed.Listener {
	return feed.ListenerFuncs{
		Snapshot: func(s feed.Snapshot) { d.Handle(ctx, s.Alerts) },
	}
}
