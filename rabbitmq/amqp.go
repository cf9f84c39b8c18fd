package rabbitmq

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

const (
	defaultHeartbeat = 10 * time.Second
	defaultLocale    = "en_US"

	msgReconnect = "RECONNECT_DONE"
	msgClose     = "CLOSE"
)

var ErrReconnecting = errors.New("amqp: trying to publish during reconnect")

type listenerMsg = string

// AMQPClient is the part of an AMQP connection the escrow events need. It
// survives broker restarts: listeners get a fresh delivery channel and
// publishers wait while the connection is re-established.
type AMQPClient interface {
	Listen(ctx context.Context, exchange string, routingKey string, queueName string, options ...AMQPListenOptions) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

type defaultAMQPClient struct {
	conn *amqp.Connection
	uri  string

	// consumers and publishers use separate channels so that flow control
	// on publishing does not stall consumption
	consumeChannel *amqp.Channel
	publishChannel *amqp.Channel

	notifyCloseChan chan *amqp.Error

	mu        sync.Mutex
	listeners []chan listenerMsg
	reconFlag atomic.Bool

	reconnectMaxElapsed time.Duration
	logger              *lecho.Logger
}

type DialOption = func(client *defaultAMQPClient)

func WithDialLogger(logger *lecho.Logger) DialOption {
	return func(client *defaultAMQPClient) {
		client.logger = logger
	}
}

// WithReconnectWindow bounds how long the client keeps trying to reconnect
// before closing all listeners.
func WithReconnectWindow(window time.Duration) DialOption {
	return func(client *defaultAMQPClient) {
		client.reconnectMaxElapsed = window
	}
}

func DialAMQP(uri string, options ...DialOption) (AMQPClient, error) {
	client := &defaultAMQPClient{
		uri: uri,
		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),
		reconnectMaxElapsed: time.Minute,
		listeners:           []chan listenerMsg{},
	}
	for _, opt := range options {
		opt(client)
	}
	if err := client.connect(); err != nil {
		return nil, err
	}

	go client.reconnectionLoop()

	return client, nil
}

func (c *defaultAMQPClient) connect() error {
	conn, err := amqp.DialConfig(c.uri, amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    defaultLocale,
		Dial:      amqp.DefaultDial(time.Second * 3),
	})
	if err != nil {
		return err
	}

	consumeChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	publishChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	notifyCloseChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(notifyCloseChan)

	c.conn = conn
	c.consumeChannel = consumeChannel
	c.publishChannel = publishChannel
	c.notifyCloseChan = notifyCloseChan

	return nil
}

func (c *defaultAMQPClient) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Second * 10
	b.MaxElapsedTime = c.reconnectMaxElapsed
	return b
}

func (c *defaultAMQPClient) notifyListeners(msg listenerMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, listener := range c.listeners {
		listener <- msg
	}
}

func (c *defaultAMQPClient) reconnectionLoop() {
	for {
		amqpError, ok := <-c.notifyCloseChan
		if !ok || amqpError == nil {
			// closed on purpose through Close
			return
		}
		c.logger.Error(amqpError)

		c.reconFlag.Store(true)
		c.logger.Info("amqp: trying to reconnect...")
		if err := backoff.Retry(c.connect, c.newBackoff()); err != nil {
			c.logger.Errorf("amqp: giving up reconnecting: %v", err)
			c.notifyListeners(msgClose)
			return
		}
		c.reconFlag.Store(false)
		c.logger.Info("amqp: successfully reconnected")

		c.notifyListeners(msgReconnect)
	}
}

func (c *defaultAMQPClient) Close() error {
	return c.conn.Close()
}

// ExchangeDeclare uses a short lived channel so a failed declaration does
// not close the consume or publish channel.
func (c *defaultAMQPClient) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

type ListenOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	Wait       bool
	Exclusive  bool
	AutoAck    bool
	// DeliveryLimit caps redeliveries of a message on quorum queues.
	DeliveryLimit int
}

type AMQPListenOptions = func(opts ListenOptions) ListenOptions

func WithDurable(durable bool) AMQPListenOptions {
	return func(opts ListenOptions) ListenOptions {
		opts.Durable = durable
		return opts
	}
}

func WithAutoDelete(autoDelete bool) AMQPListenOptions {
	return func(opts ListenOptions) ListenOptions {
		opts.AutoDelete = autoDelete
		return opts
	}
}

func WithExclusive(exclusive bool) AMQPListenOptions {
	return func(opts ListenOptions) ListenOptions {
		opts.Exclusive = exclusive
		return opts
	}
}

func WithAutoAck(autoAck bool) AMQPListenOptions {
	return func(opts ListenOptions) ListenOptions {
		opts.AutoAck = autoAck
		return opts
	}
}

func WithDeliveryLimit(limit int) AMQPListenOptions {
	return func(opts ListenOptions) ListenOptions {
		opts.DeliveryLimit = limit
		return opts
	}
}

// Listen returns a delivery channel that outlives reconnects. It is closed
// when ctx ends or the client gives up reconnecting.
func (c *defaultAMQPClient) Listen(ctx context.Context, exchange string, routingKey string, queueName string, options ...AMQPListenOptions) (<-chan amqp.Delivery, error) {
	deliveries, err := c.consume(exchange, routingKey, queueName, options...)
	if err != nil {
		return nil, err
	}

	clientChannel := make(chan amqp.Delivery)

	notifyReconnectChan := make(chan listenerMsg, 2)
	c.mu.Lock()
	c.listeners = append(c.listeners, notifyReconnectChan)
	c.mu.Unlock()

	go func() {
		defer close(clientChannel)
		for {
			select {
			case <-ctx.Done():
				return

			case msg := <-notifyReconnectChan:
				switch msg {
				case msgReconnect:
					d, err := c.consume(exchange, routingKey, queueName, options...)
					if err != nil {
						c.logger.Error(err)
						return
					}
					c.logger.Infof("amqp: consuming %s from new deliveries channel", routingKey)
					deliveries = d
				case msgClose:
					return
				default:
					c.logger.Warnf("amqp: unrecognized message sent to listener: %s", msg)
				}

			case delivery, ok := <-deliveries:
				if !ok {
					// the old channel closes before the reconnect message arrives
					deliveries = nil
					continue
				}
				select {
				case clientChannel <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return clientChannel, nil
}

func (c *defaultAMQPClient) consume(exchange string, routingKey string, queueName string, options ...AMQPListenOptions) (<-chan amqp.Delivery, error) {
	opts := ListenOptions{
		Durable:       true,
		DeliveryLimit: 10,
	}
	for _, opt := range options {
		opts = opt(opts)
	}

	// topic exchanges route by pattern, settlement notifications are keyed
	// escrow.<status> and transaction.<status>
	err := c.consumeChannel.ExchangeDeclare(exchange, "topic", opts.Durable, opts.AutoDelete, opts.Internal, opts.Wait, nil)
	if err != nil {
		return nil, err
	}

	// non-exclusive: several escrowhub instances share the queue and the
	// broker spreads notifications between them
	queue, err := c.consumeChannel.QueueDeclare(queueName, opts.Durable, opts.AutoDelete, opts.Exclusive, opts.Wait, amqp.Table{
		"delivery-limit": opts.DeliveryLimit,
	})
	if err != nil {
		return nil, err
	}

	if err := c.consumeChannel.QueueBind(queue.Name, routingKey, exchange, opts.Wait, nil); err != nil {
		return nil, err
	}

	return c.consumeChannel.Consume(queue.Name, "", opts.AutoAck, opts.Exclusive, false, opts.Wait, nil)
}

func (c *defaultAMQPClient) PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error {
	if c.reconFlag.Load() {
		err := backoff.Retry(func() error {
			if c.reconFlag.Load() {
				return ErrReconnecting
			}
			return nil
		}, backoff.WithContext(c.newBackoff(), ctx))
		if err != nil {
			return err
		}
	}

	return c.publishChannel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}
