package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/service"
)

// DialTimeout bounds the TCP connect and AMQP handshake.  Publish runs on
// the request path, so an unreachable broker must fail fast.
const DialTimeout = 2 * time.Second

// Publisher dispatches session close jobs to RabbitMQ.  It dials per publish;
// closes are rare compared to scans, and a failed publish is recovered by
// the sweeper.
type Publisher struct {
	url    string
	logger *zap.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{url: url, logger: logger}
}

// Dispatch implements service.Dispatcher.  Messages are persistent and
// routed through the default exchange to SessionCloseQueue.
func (p *Publisher) Dispatch(ctx context.Context, job service.SessionCloseJob) error {
	body, err := json.Marshal(EventFromJob(job))
	if err != nil {
		return err
	}
	conn, err := dial(p.url)
	if err != nil {
		p.logger.Error("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Error("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := declare(ch); err != nil {
		p.logger.Error("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.JobID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", SessionCloseQueue, false, false, pub); err != nil {
		p.logger.Error("rabbitmq publish failed", zap.String("session_id", job.SessionID), zap.Error(err))
		return err
	}
	return nil
}

// declare makes sure the durable queue exists.
func declare(ch *amqp.Channel) (amqp.Queue, error) {
	return ch.QueueDeclare(
		SessionCloseQueue, // name
		true,              // durable
		false,             // autoDelete
		false,             // exclusive
		false,             // noWait
		nil,               // args
	)
}

func dial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(DialTimeout),
	})
}
