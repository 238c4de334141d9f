package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return f.err
}

func testOrder() models.Order {
	return models.Order{
		ID:          "order-1",
		Items:       []models.OrderLine{{MenuItemID: "roll", Quantity: 2}},
		Status:      models.OrderCompleted,
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("31.98"),
	}
}

func TestPublishOrderCommitted(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch}

	require.NoError(t, p.PublishOrderCommitted(context.Background(), testOrder()))
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, ExchangeName, sent.exchange)
	assert.Equal(t, RoutingOrderCommitted, sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, "order-1", sent.msg.MessageId)

	var body OrderCommitted
	require.NoError(t, json.Unmarshal(sent.msg.Body, &body))
	assert.Equal(t, "order-1", body.OrderID)
	assert.Equal(t, "31.98", body.TotalAmount)
	assert.Equal(t, 2, body.Items[0].Quantity)
}

func TestPublishOrderCommittedError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := &Publisher{ch: ch}
	assert.Error(t, p.PublishOrderCommitted(context.Background(), testOrder()))
}

func TestPublishToBroker(t *testing.T) {
	url := os.Getenv("TEST_AMQP_URL")
	if url == "" {
		t.Skip("TEST_AMQP_URL not set, skipping RabbitMQ integration test")
	}
	conn, err := Dial(url)
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	defer conn.Close()

	ch := conn.Channel()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, RoutingOrderCommitted, ExchangeName, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Publisher().PublishOrderCommitted(ctx, testOrder()))

	select {
	case d := <-msgs:
		var body OrderCommitted
		require.NoError(t, json.Unmarshal(d.Body, &body))
		assert.Equal(t, "order-1", body.OrderID)
	case <-ctx.Done():
		t.Fatal("order event not received")
	}
}
