package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const DefaultExchange = "bytenosh.waitlist"

// AMQPSink publishes staff-topic events to a topic exchange, routed by event
// type (entry.queued, you.are.up, ...).
type AMQPSink struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, p waitlist.Publication) error {
	const op = "mq.AMQPSink.Send"

	msg, ok, err := message(p)
	if err != nil || !ok {
		return err
	}

	// amqp channels are not safe for concurrent publishes
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.PublishWithContext(ctx, s.exchange, msg.Type.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.OccurredAt,
		Type:         string(msg.Type),
		Body:         msg.Body,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// outbound is the broker-facing form of a publication.
type outbound struct {
	ID         string
	Type       waitlist.EventType
	EntryID    string
	OccurredAt time.Time
	Body       []byte
}

// messageID is stable across redeliveries of one event and distinct for
// repeated events of the same type on one entry, such as QUEUE_HEAD.
func messageID(ev waitlist.StatusEvent) string {
	return ev.Entry.ID + ":" + ev.Type.RoutingKey() + ":" + strconv.FormatInt(ev.OccurredAt.UnixNano(), 10)
}

// message keeps one copy of every event: the staff-topic publication, plus
// YOU_ARE_UP which only goes to the party topic.
func message(p waitlist.Publication) (outbound, bool, error) {
	scope, _, ok := waitlist.ParseTopic(p.Topic)
	if !ok {
		return outbound{}, false, nil
	}
	if scope == "party" && p.Event.Type != waitlist.EventYouAreUp {
		return outbound{}, false, nil
	}

	body, err := json.Marshal(p.Event)
	if err != nil {
		return outbound{}, false, err
	}
	return outbound{
		ID:         messageID(p.Event),
		Type:       p.Event.Type,
		EntryID:    p.Event.Entry.ID,
		OccurredAt: p.Event.OccurredAt,
		Body:       body,
	}, true, nil
}
