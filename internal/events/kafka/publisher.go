// Package kafka publishes payment reconciliation events to Kafka.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// DefaultTopic receives checkout events when no topic is configured.
const DefaultTopic = "checkout-events"

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ payment.Publisher = (*Publisher)(nil)

// Publisher writes payment events keyed by attempt id, so all events of an
// attempt land on one partition in order.
type Publisher struct {
	writer MessageWriter
}

// NewWriter returns a kafka.Writer for topic on brokers.
func NewWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
}

// NewPublisher returns a Publisher on w.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// Publish writes e.
func (p *Publisher) Publish(ctx context.Context, e payment.Event) error {
	msg := kafka.Message{
		Key:   []byte(e.AttemptID),
		Value: EncodeEvent(e),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Time: e.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event", e.Type)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// EncodeEvent renders e as a JSON object. Empty fields are omitted.
func EncodeEvent(e payment.Event) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("attempt_id")
	enc.Str(e.AttemptID)
	optStr(&enc, "user_id", e.UserID)
	optStr(&enc, "order_id", e.OrderID)
	optStr(&enc, "gateway_order_id", e.GatewayOrderID)
	optStr(&enc, "payment_id", e.PaymentID)
	enc.FieldStart("amount_minor_units")
	enc.Int64(e.AmountMinorUnits)
	optStr(&enc, "currency", e.Currency)
	optStr(&enc, "reason", e.Reason)
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
	return enc.Bytes()
}

func optStr(enc *jx.Encoder, field, v string) {
	if v == "" {
		return
	}
	enc.FieldStart(field)
	enc.Str(v)
}
