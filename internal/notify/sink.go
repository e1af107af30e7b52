package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Sink displays a notification.
type Sink interface {
	Show(ctx context.Context, n Notification) error
}

type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Show(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// WriterSink prints one line per notification.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Show(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "\a[%s] %s: %s\n", n.Timestamp.Local().Format("15:04:05"), n.Title, n.Body)
	return err
}

// WebhookSink posts the notification as JSON.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *WebhookSink) Show(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Debug("Webhook notification sent", "tag", n.Tag, "url", s.url)
	return nil
}

// Multi shows a notification on every sink and joins their errors.
type Multi []Sink

func (m Multi) Show(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Coalesce drops a notification while one with the same tag is still open.
type Coalesce struct {
	next Sink
	now  func() time.Time

	mu   sync.Mutex
	open map[string]time.Time
}

func NewCoalesce(next Sink, now func() time.Time) *Coalesce {
	if now == nil {
		now = time.Now
	}
	return &Coalesce{next: next, now: now, open: make(map[string]time.Time)}
}

// ErrCoalesced is returned when a notification replaced nothing because its
// tag was already on screen.
var ErrCoalesced = errors.New("notification already open")

func (c *Coalesce) Show(ctx context.Context, n Notification) error {
	now := c.now()

	c.mu.Lock()
	for tag, until := range c.open {
		if !now.Before(until) {
			delete(c.open, tag)
		}
	}
	if _, ok := c.open[n.Tag]; ok {
		c.mu.Unlock()
		return ErrCoalesced
	}
	c.open[n.Tag] = now.Add(n.AutoClose)
	c.mu.Unlock()

	if err := c.next.Show(ctx, n); err != nil {
		c.mu.Lock()
		delete(c.open, n.Tag)
		c.mu.Unlock()
		return err
	}
	return nil
}
