package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

//go:generate mockgen -destination=./mock_rabbitmq/rabbitmq.go github.com/homechain/escrowhub/rabbitmq Client,AMQPClient

// bufPool reuses the encode buffers of published events.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"
)

var ErrDisconnected = errors.New("disconnected from RabbitMQ")

// SettlementEventHandler receives the raw body of a settlement network
// notification. A returned error rejects the message without requeueing.
type SettlementEventHandler = func(ctx context.Context, payload []byte) error

type Client interface {
	// PublishEvent publishes payload as JSON to the event exchange.
	PublishEvent(ctx context.Context, routingKey string, payload interface{}) error
	SubscribeToSettlementEvents(ctx context.Context, handler SettlementEventHandler) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	eventExchange               string
	settlementExchange          string
	settlementConsumerQueueName string
	settlementRoutingKey        string
}

type ClientOption = func(client *DefaultClient)

func WithEventExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.eventExchange = exchange
	}
}

func WithSettlementExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.settlementExchange = exchange
	}
}

func WithSettlementConsumerQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.settlementConsumerQueueName = name
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

// NewClient builds the event client on top of an AMQP connection and
// declares the event exchange.
func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		eventExchange:               "escrowhub_events",
		settlementExchange:          "settlement_events",
		settlementConsumerQueueName: "escrowhub_settlement_consumer",
		settlementRoutingKey:        "#",
	}

	for _, opt := range options {
		opt(client)
	}

	err := client.amqpClient.ExchangeDeclare(
		client.eventExchange,
		// topic: consumers bind to job.*, escrow.* and so on
		"topic",
		// durable and not auto-deleted, survives broker restarts
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) PublishEvent(ctx context.Context, routingKey string, payload interface{}) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return err
	}

	err := client.amqpClient.PublishWithContext(ctx,
		client.eventExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         buf.Bytes(),
		},
	)
	if err != nil {
		captureErr(client.logger, err)
		return err
	}

	client.logger.Debugf("Successfully published event %s", routingKey)
	return nil
}

// SubscribeToSettlementEvents consumes notifications of the settlement
// network until ctx ends. Messages that cannot be handled are rejected and
// not requeued; periodic reconciliation catches whatever they carried.
func (client *DefaultClient) SubscribeToSettlementEvents(ctx context.Context, handler SettlementEventHandler) error {
	deliveries, err := client.amqpClient.Listen(ctx, client.settlementExchange, client.settlementRoutingKey, client.settlementConsumerQueueName)
	if err != nil {
		return err
	}

	client.logger.Info("Starting settlement event consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return context.Canceled
				}
				return ErrDisconnected
			}

			if err := handler(ctx, delivery.Body); err != nil {
				captureErr(client.logger, err)
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := delivery.Ack(false); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
