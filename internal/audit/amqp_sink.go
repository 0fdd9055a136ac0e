package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel часть *amqp.Channel, нужная sink'у
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink публикует события в topic exchange, routing key = kind
type AMQPSink struct {
	conn     *amqp.Connection
	ch       AMQPChannel
	exchange string
}

// DialAMQP подключается и объявляет durable topic exchange
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if url == "" {
		return nil, errors.New("amqp sink: url is empty")
	}
	if exchange == "" {
		exchange = "agentwallet.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp sink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp sink: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp sink: declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func NewAMQPSink(ch AMQPChannel, exchange string) *AMQPSink {
	return &AMQPSink{ch: ch, exchange: exchange}
}

func (s *AMQPSink) WriteBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("amqp sink: marshal %s: %w", e.ID, err)
		}
		err = s.ch.PublishWithContext(ctx, s.exchange, string(e.Kind), false, false, amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     e.ID,
			CorrelationId: e.TraceID,
			Timestamp:     e.Timestamp,
			Type:          string(e.Kind),
			Body:          body,
		})
		if err != nil {
			return fmt.Errorf("amqp sink: publish %s: %w", e.Kind, err)
		}
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
