package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/port"
)

// RabbitMQAdapter implements the broker port on a topic exchange with
// durable queues. Consumers run with a prefetch of 1 and acknowledge after
// the handler returns, whatever its outcome: there is no redelivery.
type RabbitMQAdapter struct {
	logger *logrus.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func NewRabbitMQAdapter(logger *logrus.Logger, url string) (*RabbitMQAdapter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &RabbitMQAdapter{logger: logger, conn: conn, ch: ch}, nil
}

func (a *RabbitMQAdapter) DeclareTopology(ctx context.Context, top port.Topology) error {
	if err := a.ch.ExchangeDeclare(top.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", top.Exchange, err)
	}
	for _, queue := range top.Queues {
		if _, err := a.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}
	for _, b := range top.Bindings {
		if err := a.ch.QueueBind(b.Queue, b.RoutingKey, top.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.Queue, b.RoutingKey, err)
		}
	}
	return nil
}

func (a *RabbitMQAdapter) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	err := a.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: uuid.NewString(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	a.logger.WithContext(ctx).WithFields(logrus.Fields{
		"routing_key": routingKey,
		"bytes":       len(body),
	}).Debug("message published")
	return nil
}

func (a *RabbitMQAdapter) Consume(ctx context.Context, queue string, handler port.MessageHandler) error {
	// Dedicated channel per consumer so the prefetch applies per consumer.
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := handler(ctx, d.RoutingKey, d.Body); err != nil {
				a.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
					"queue":       queue,
					"routing_key": d.RoutingKey,
				}).Warn("handler failed, acknowledging anyway")
			}
			if err := d.Ack(false); err != nil {
				a.logger.WithContext(ctx).WithError(err).WithField("queue", queue).Error("ack failed")
			}
		}
	}
}

func (a *RabbitMQAdapter) Close() error {
	if err := a.ch.Close(); err != nil {
		a.conn.Close()
		return err
	}
	return a.conn.Close()
}
