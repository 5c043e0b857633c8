package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/iliyamo/fitting-room-service/internal/service"
)

// Consumer feeds session close events from RabbitMQ into a job handler,
// normally the coordinator.
type Consumer struct {
	url      string
	prefetch int
	handle   service.JobHandler
	logger   *zap.Logger
}

// NewConsumer builds a Consumer.  prefetch is both the broker QoS and the
// number of deliveries handled concurrently.
func NewConsumer(url string, prefetch int, handle service.JobHandler, logger *zap.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{url: url, prefetch: prefetch, handle: handle, logger: logger}
}

// Run connects and consumes until ctx is done, reconnecting with backoff
// whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(b, ctx)

	connect := func() error {
		conn, err := dial(c.url)
		if err != nil {
			return err
		}
		policy.Reset()
		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("session-close consumer: reconnecting", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.logger.Warn("session-close consumer: set QoS failed", zap.Error(err))
	}
	if _, err := declare(ch); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(SessionCloseQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	return c.process(ctx, msgs)
}

// process handles up to prefetch deliveries at once and returns when ctx is
// done or msgs closes, after every started delivery was acked or nacked.
func (c *Consumer) process(ctx context.Context, msgs <-chan amqp.Delivery) error {
	sem := semaphore.NewWeighted(int64(c.prefetch))
	defer func() { _ = sem.Acquire(context.Background(), int64(c.prefetch)) }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				// Unacked; the broker redelivers once the channel closes.
				return err
			}
			go func() {
				defer sem.Release(1)
				c.deliver(ctx, d)
			}()
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	if err := c.HandleMessage(ctx, d.Body); err != nil {
		c.logger.Error("session-close consumer: handle message failed", zap.Error(err))
		// Not requeued: the sweeper re-dispatches unfinished closes.
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// HandleMessage decodes one delivery body and runs the handler.
func (c *Consumer) HandleMessage(ctx context.Context, body []byte) error {
	var ev SessionCloseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	job, err := ev.Job()
	if err != nil {
		return err
	}
	return c.handle(ctx, job)
}
