// Package notify hands delivery manifests to whatever sends buyer emails.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// EventDeliveryReady is the event_type header of manifest messages.
const EventDeliveryReady = "delivery.ready"

// Notifier sends a manifest to the buyer.
type Notifier interface {
	SendDelivery(ctx context.Context, manifest *models.DeliveryManifest) error
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes manifests to a topic consumed by the mailer. The
// message key is the session id so resends for one order stay ordered.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
	})
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

// SendDelivery publishes manifest.
func (n *KafkaNotifier) SendDelivery(ctx context.Context, manifest *models.DeliveryManifest) error {
	if manifest == nil {
		return errors.New("notify: nil manifest")
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("notify: encode manifest %s: %w", manifest.SessionID, err)
	}

	msg := kafka.Message{
		Key:   []byte(manifest.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventDeliveryReady)},
			{Key: "buyer_email", Value: []byte(manifest.BuyerEmail)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: publish manifest %s: %w", manifest.SessionID, err)
	}
	log.Printf("[notify] delivery for session %s published (%d items)", manifest.SessionID, len(manifest.Items))
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs manifests. It is used when no broker is configured.
type LogNotifier struct{}

// SendDelivery logs manifest.
func (LogNotifier) SendDelivery(_ context.Context, manifest *models.DeliveryManifest) error {
	if manifest == nil {
		return errors.New("notify: nil manifest")
	}
	for _, item := range manifest.Items {
		log.Printf("[notify] session=%s to=%s item=%q license=%q files=%d",
			manifest.SessionID, manifest.BuyerEmail, item.BeatTitle, item.License, len(item.Files))
	}
	return nil
}
