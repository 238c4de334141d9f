// Package events publishes committed orders to RabbitMQ for downstream
// consumers such as kitchen displays.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

const (
	ExchangeName          = "dripos.orders"
	RoutingOrderCommitted = "order.committed"
)

// OrderCommitted is the message body of an order.committed event
type OrderCommitted struct {
	OrderID     string             `json:"orderId"`
	Items       []models.OrderLine `json:"items"`
	TotalAmount string             `json:"totalAmount"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends order events to the orders exchange
type Publisher struct {
	ch channel
}

// NewPublisher wraps an open channel
func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// PublishOrderCommitted sends the committed order as a persistent JSON message
func (p *Publisher) PublishOrderCommitted(ctx context.Context, order models.Order) error {
	body, err := json.Marshal(OrderCommitted{
		OrderID:     order.ID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount.StringFixed(2),
		CreatedAt:   order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("could not marshal order event: %w", err)
	}

	return p.ch.PublishWithContext(ctx,
		ExchangeName,          // exchange
		RoutingOrderCommitted, // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    order.ID,
			Timestamp:    order.CreatedAt,
			Body:         body,
		},
	)
}

// Connection owns the AMQP connection and channel used by a Publisher
type Connection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to url and declares the orders exchange
func Dial(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return &Connection{conn: conn, ch: ch}, nil
}

// Publisher returns a publisher on the connection's channel
func (c *Connection) Publisher() *Publisher {
	return NewPublisher(c.ch)
}

// Channel exposes the underlying channel
func (c *Connection) Channel() *amqp.Channel {
	return c.ch
}

// Close closes the channel and the connection
func (c *Connection) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
