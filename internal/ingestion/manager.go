// Package ingestion polls upstream hazard feeds and appends what they report
// as alerts.
package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mr1hm/city-alerts/internal/config"
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/worker"
)

// Appender accepts new alerts, normally the feed gateway.
type Appender interface {
	Append(ctx context.Context, draft *models.Draft) (string, error)
}

// SourceIndex tells whether an upstream event was already ingested.
type SourceIndex interface {
	ExistsBySourceRef(ctx context.Context, ref string) (bool, error)
}

type Manager struct {
	cfg        *config.Config
	index      SourceIndex
	feed       Appender
	httpClient *http.Client
	now        func() time.Time
	pool       *worker.Pool[*models.Draft]
	wg         sync.WaitGroup
}

func NewManager(cfg *config.Config, index SourceIndex, feed Appender) *Manager {
	return &Manager{
		cfg:   cfg,
		index: index,
		feed:  feed,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewPool("ingestion", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	if m.cfg.Ingestion.USGSEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, "usgs", m.cfg.Ingestion.USGSURL, m.cfg.Ingestion.USGSPollInterval)
	}

	if m.cfg.Ingestion.GDACSEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, "gdacs", m.cfg.Ingestion.GDACSURL, m.cfg.Ingestion.GDACSPollInterval)
	}
}

func (m *Manager) process(ctx context.Context, draft *models.Draft) error {
	if draft.SourceRef != "" {
		exists, err := m.index.ExistsBySourceRef(ctx, draft.SourceRef)
		if err != nil {
			slog.Error("error checking source ref", "source_ref", draft.SourceRef, "error", err)
			return err
		}
		if exists {
			return nil
		}
	}

	id, err := m.feed.Append(ctx, draft)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			slog.Warn("dropping invalid upstream event", "source_ref", draft.SourceRef, "error", err)
			return nil
		}
		slog.Error("error appending alert", "source_ref", draft.SourceRef, "error", err)
		return err
	}

	slog.Info("ingested alert", "id", id, "type", draft.Type, "severity", draft.Severity, "source", draft.CreatedBy)
	return nil
}

func (m *Manager) runPoller(ctx context.Context, source, url string, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", source, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.poll(ctx, source, url)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", source)
			return
		case <-ticker.C:
			m.poll(ctx, source, url)
		}
	}
}

func (m *Manager) poll(ctx context.Context, source, url string) {
	slog.Debug("polling", "source", source)

	var (
		drafts []*models.Draft
		err    error
	)

	switch source {
	case "usgs":
		drafts, err = m.pollUSGS(ctx, url)
	case "gdacs":
		drafts, err = m.pollGDACS(ctx, url)
	}
	if err != nil {
		slog.Error("poll failed", "source", source, "error", err)
		return
	}

	for _, d := range drafts {
		if !m.pool.SubmitContext(ctx, d) {
			return
		}
	}

	slog.Debug("poll complete", "source", source, "count", len(drafts))
}

// Stop waits for the pollers, which exit when the Start context ends, then
// drains the queue.
func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	m.httpClient.CloseIdleConnections()
	slog.Info("ingestion manager stopped")
}

// expiry returns the deadline for an event seen at eventTime, or false when
// that deadline has already passed.
func (m *Manager) expiry(eventTime time.Time) (*time.Time, bool) {
	exp := eventTime.Add(m.cfg.Ingestion.AlertTTL).UTC()
	if !exp.After(m.now()) {
		return nil, false
	}
	return &exp, true
}
