package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Transport abstracts how events leave one process, so the gateway's
// fan-out can span multiple daemon processes without
// changing the in-process publish/subscribe API above. The in-memory
// EventBus is the default Transport; KafkaTransport is the alternate
// implementation for multi-daemon deployments.
type Transport interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// inProcessTransport adapts *EventBus to Transport for callers that want a
// uniform interface regardless of deployment shape.
type inProcessTransport struct {
	bus *EventBus
}

// AsTransport wraps an EventBus as a Transport.
func AsTransport(b *EventBus) Transport { return &inProcessTransport{bus: b} }

func (t *inProcessTransport) Publish(_ context.Context, e Event) error {
	t.bus.Publish(e)
	return nil
}

func (t *inProcessTransport) Close() error { return nil }

// KafkaTransport publishes events onto a Kafka topic (one per session
// prefix) using segmentio/kafka-go, grounded on internal/group's existing
// consumer/producer usage of the same library. It fans events out to local
// subscribers via an embedded EventBus after writing them, so in-process
// listeners keep working unchanged when Kafka is enabled.
type KafkaTransport struct {
	local  *EventBus
	writer *kafka.Writer
	topic  string

	mu     sync.Mutex
	closed bool
}

// NewKafkaTransport builds a KafkaTransport writing to topic on the given
// comma-separated broker list.
func NewKafkaTransport(brokers, topic string, local *EventBus) *KafkaTransport {
	return &KafkaTransport{
		local: local,
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish writes the event to Kafka and fans it out to local subscribers.
func (t *KafkaTransport) Publish(ctx context.Context, e Event) error {
	t.local.Publish(e)

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("kafka transport: publish failed", "topic", t.topic, "session_id", e.SessionID, "error", err)
		return err
	}
	return nil
}

// Close shuts the underlying Kafka writer down.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.writer.Close()
}

// StartKafkaConsumer reads events published by other daemon processes on
// topic and re-publishes them onto local, so a gateway fanning out to
// browser/WebSocket clients sees events from every daemon in the cluster.
func StartKafkaConsumer(ctx context.Context, brokers, topic, groupID string, local *EventBus) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   topic,
		GroupID: groupID,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka transport: read failed", "topic", topic, "error", err)
				continue
			}
			var e Event
			if err := json.Unmarshal(m.Value, &e); err != nil {
				slog.Warn("kafka transport: decode failed", "error", err)
				continue
			}
			local.Publish(e)
		}
	}()
}
