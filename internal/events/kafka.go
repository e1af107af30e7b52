// Package events exports alert lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mr1hm/city-alerts/internal/metrics"
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/worker"
)

const (
	EventAlertCreated  = "alert.created"
	EventStatusChanged = "alert.status_changed"

	writeTimeout = 10 * time.Second
)

// Event is the JSON value written for every lifecycle change. Alert is set
// for alert.created only.
type Event struct {
	Type       string        `json:"eventType"`
	AlertID    string        `json:"alertId"`
	Status     models.Status `json:"status"`
	Alert      *models.Alert `json:"alert,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues events on a worker pool so the gateway never waits on
// the broker. Events arriving while the queue is full are dropped and counted.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	pool    *worker.Pool[Event]
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func NewKafkaPublisher(brokers, topic string, workers, buffer int, m *metrics.Metrics) (*KafkaPublisher, error) {
	brokerList := ParseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	slog.Info("Kafka publisher configured", "brokers", brokerList, "topic", topic)
	return newPublisher(w, topic, workers, buffer, m), nil
}

func newPublisher(w messageWriter, topic string, workers, buffer int, m *metrics.Metrics) *KafkaPublisher {
	p := &KafkaPublisher{writer: w, topic: topic, metrics: m}
	p.pool = worker.NewPool("kafka", workers, buffer, p.write)
	return p
}

func (p *KafkaPublisher) Start(ctx context.Context) {
	p.pool.Start(ctx)
}

func (p *KafkaPublisher) AlertCreated(a models.Alert) {
	p.enqueue(Event{
		Type:       EventAlertCreated,
		AlertID:    a.ID,
		Status:     a.Status,
		Alert:      &a,
		OccurredAt: a.Timestamp,
	})
}

func (p *KafkaPublisher) StatusChanged(id string, status models.Status, at time.Time) {
	p.enqueue(Event{
		Type:       EventStatusChanged,
		AlertID:    id,
		Status:     status,
		OccurredAt: at,
	})
}

func (p *KafkaPublisher) enqueue(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.pool.TrySubmit(ev) {
		p.metrics.EventDropped()
		slog.Warn("Dropped lifecycle event", "event_type", ev.Type, "alert_id", ev.AlertID)
	}
}

func (p *KafkaPublisher) write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.AlertID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to write lifecycle event", "topic", p.topic, "alert_id", ev.AlertID, "error", err)
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close drains queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.pool.Stop()
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	slog.Info("Kafka publisher closed", "topic", p.topic)
	return nil
}
