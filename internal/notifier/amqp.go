package notifier

import (
	"auction-engine/utils"
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange notifications are published to
const DefaultExchange = "auction_notifications"

// Publisher is the subset of *amqp.Channel used to publish
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications to a RabbitMQ topic exchange with the
// routing key "notify.<kind>".
type AMQPNotifier struct {
	pub      Publisher
	exchange string
	now      func() time.Time
}

func NewAMQPNotifier(pub Publisher, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPNotifier{
		pub:      pub,
		exchange: exchange,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DialAMQP connects to the broker and declares the notification exchange.
// The caller owns the returned connection.
func DialAMQP(url, exchange string) (*amqp.Connection, *AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("notifier: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("notifier: open channel: %w", err)
	}

	n := NewAMQPNotifier(ch, exchange)
	err = ch.ExchangeDeclare(
		n.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("notifier: declare exchange %s: %w", n.exchange, err)
	}
	return conn, n, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, userID, kind string, payload any) error {
	now := n.now()
	body, err := json.Marshal(Message{
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("notifier: encode %s: %w", kind, err)
	}

	err = n.pub.PublishWithContext(ctx,
		n.exchange,
		"notify."+kind,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    utils.GenerateID(),
			Timestamp:    now,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("notifier: publish to exchange %s: %w", n.exchange, err)
	}
	return nil
}
