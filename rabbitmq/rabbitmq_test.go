package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/homechain/escrowhub/rabbitmq"
	"github.com/homechain/escrowhub/rabbitmq/mock_rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func newClient(t *testing.T, amqpClient *mock_rabbitmq.MockAMQPClient, opts ...rabbitmq.ClientOption) rabbitmq.Client {
	amqpClient.EXPECT().
		ExchangeDeclare(gomock.Any(), "topic", true, false, false, false, gomock.Any()).
		Times(1).
		Return(nil)
	client, err := rabbitmq.NewClient(amqpClient, opts...)
	assert.NoError(t, err)
	return client
}

func TestNewClientExchangeDeclareFails(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	amqpClient.EXPECT().
		ExchangeDeclare(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("channel closed"))

	_, err := rabbitmq.NewClient(amqpClient)
	assert.Error(t, err)
}

func TestPublishEvent(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client := newClient(t, amqpClient, rabbitmq.WithEventExchange("jobs"))

	var published amqp.Publishing
	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), "jobs", "job.completed", false, false, gomock.Any()).
		Times(1).
		DoAndReturn(func(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
			published = msg
			return nil
		})

	payload := map[string]interface{}{"type": "job.completed", "job_id": 7}
	err := client.PublishEvent(context.Background(), "job.completed", payload)
	assert.NoError(t, err)

	assert.Equal(t, "application/json", published.ContentType)
	assert.Equal(t, amqp.Persistent, published.DeliveryMode)
	decoded := map[string]interface{}{}
	assert.NoError(t, json.Unmarshal(published.Body, &decoded))
	assert.Equal(t, "job.completed", decoded["type"])
	assert.Equal(t, float64(7), decoded["job_id"])
}

func TestPublishEventError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client := newClient(t, amqpClient)

	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), "escrowhub_events", "escrow.funded", false, false, gomock.Any()).
		Return(rabbitmq.ErrReconnecting)

	err := client.PublishEvent(context.Background(), "escrow.funded", struct{}{})
	assert.ErrorIs(t, err, rabbitmq.ErrReconnecting)
}

func TestSubscribeToSettlementEvents(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client := newClient(t, amqpClient,
		rabbitmq.WithSettlementExchange("network"),
		rabbitmq.WithSettlementConsumerQueueName("escrowhub_test"),
	)

	ch := make(chan amqp.Delivery, 2)
	amqpClient.EXPECT().
		Listen(gomock.Any(), "network", "#", "escrowhub_test").
		Times(1).
		Return((<-chan amqp.Delivery)(ch), nil)

	var (
		mu       sync.Mutex
		received []string
	)
	handler := func(ctx context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(payload))
		if string(payload) == "bad" {
			return errors.New("cannot decode")
		}
		return nil
	}

	// deliveries without an acknowledger make Ack and Nack return errors,
	// the loop logs them and keeps consuming
	ch <- amqp.Delivery{Body: []byte(`{"type":"escrow.completed"}`)}
	ch <- amqp.Delivery{Body: []byte("bad")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.SubscribeToSettlementEvents(ctx, handler)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{`{"type":"escrow.completed"}`, "bad"}, received)
}

func TestSubscribeToSettlementEventsDisconnected(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client := newClient(t, amqpClient)

	ch := make(chan amqp.Delivery)
	close(ch)
	amqpClient.EXPECT().
		Listen(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return((<-chan amqp.Delivery)(ch), nil)

	err := client.SubscribeToSettlementEvents(context.Background(), func(context.Context, []byte) error { return nil })
	assert.ErrorIs(t, err, rabbitmq.ErrDisconnected)
}
