package grpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mr1hm/city-alerts/internal/feed"
	"github.com/mr1hm/city-alerts/internal/models"
)

const DefaultRetryDelay = 2 * time.Second

// Client talks to a remote AlertService. Its Subscribe makes it usable as a
// feed source: a broken stream is reported through OnError and reopened after
// the retry delay.
type Client struct {
	api        *AlertServiceClient
	conn       *grpc.ClientConn
	retryDelay time.Duration
}

// Dial creates a client for addr. The connection is established lazily.
func Dial(addr string, retryDelay time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, retryDelay)
	c.conn = conn
	return c, nil
}

func NewClient(cc grpc.ClientConnInterface, retryDelay time.Duration) *Client {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Client{api: NewAlertServiceClient(cc), retryDelay: retryDelay}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Append(ctx context.Context, draft *models.Draft) (string, error) {
	resp, err := c.api.SendAlert(ctx, &SendAlertRequest{Draft: draft})
	if err != nil {
		return "", fromStatus("send alert", err)
	}
	return resp.ID, nil
}

func (c *Client) SetStatus(ctx context.Context, id string, status models.Status) error {
	if _, err := c.api.SetStatus(ctx, &SetStatusRequest{ID: id, Status: status}); err != nil {
		return fromStatus("set status", err)
	}
	return nil
}

func (c *Client) Resolve(ctx context.Context, id string) error {
	return c.SetStatus(ctx, id, models.StatusResolved)
}

func (c *Client) Get(ctx context.Context, id string) (*models.Alert, error) {
	a, err := c.api.GetAlert(ctx, &GetAlertRequest{ID: id})
	if err != nil {
		return nil, fromStatus("get alert", err)
	}
	return a, nil
}

// Subscribe opens the stream and waits for the first snapshot, bounded by
// ctx. That snapshot is delivered to l from the subscription's goroutine.
func (c *Client) Subscribe(ctx context.Context, l feed.Listener) (feed.Subscription, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopSetup := context.AfterFunc(ctx, cancel)

	stream, first, err := c.open(streamCtx)
	if !stopSetup() {
		cancel()
		return nil, ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	s := &remoteSubscription{cancel: cancel, done: make(chan struct{})}
	go s.run(streamCtx, c, l, stream, first)
	return s, nil
}

func (c *Client) open(ctx context.Context) (SnapshotStream, *SnapshotMessage, error) {
	stream, err := c.api.StreamAlerts(ctx, &StreamAlertsRequest{})
	if err != nil {
		return nil, nil, fromStatus("stream alerts", err)
	}
	first, err := stream.Recv()
	if err != nil {
		return nil, nil, fromStatus("stream alerts", err)
	}
	return stream, first, nil
}

type remoteSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *remoteSubscription) run(ctx context.Context, c *Client, l feed.Listener, stream SnapshotStream, msg *SnapshotMessage) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		deliver(l, msg)

		next, err := stream.Recv()
		if err == nil {
			msg = next
			continue
		}
		if ctx.Err() != nil {
			return
		}
		l.OnError(models.NewTransportError("stream alerts", err))

		stream, msg = c.reconnect(ctx)
		if stream == nil {
			return
		}
	}
}

// reconnect retries until a stream opens or ctx ends, in which case it
// returns nil.
func (c *Client) reconnect(ctx context.Context) (SnapshotStream, *SnapshotMessage) {
	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-timer.C:
		}

		stream, first, err := c.open(ctx)
		if err == nil {
			slog.Info("alert stream reconnected")
			return stream, first
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		slog.Debug("alert stream reconnect failed", "error", err, "retry_in", c.retryDelay)
		timer.Reset(c.retryDelay)
	}
}

func deliver(l feed.Listener, msg *SnapshotMessage) {
	if msg.Error != "" {
		l.OnError(models.NewTransportError("refresh snapshot", errors.New(msg.Error)))
		return
	}
	l.OnSnapshot(feed.Snapshot{Version: msg.Version, Alerts: msg.Alerts})
}

func (s *remoteSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}
