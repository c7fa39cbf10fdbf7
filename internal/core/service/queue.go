package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/config"
	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

// Broker topology: one topic exchange, a durable queue per concern, plus a
// catch-all queue bound to every routing key for observation.
const (
	OrderExchange   = "order.topic"
	OrderQueue      = "rush.order.queue"
	CacheQueue      = "rush.cache.queue"
	FirehoseQueue   = "rush.firehose.queue"
	OrderRoutingKey = "order.create"
	CacheRoutingKey = "cache.delete"
	firehoseBinding = "#"
)

func PurchaseTopology() port.Topology {
	return port.Topology{
		Exchange: OrderExchange,
		Queues:   []string{OrderQueue, CacheQueue, FirehoseQueue},
		Bindings: []port.Binding{
			{Queue: OrderQueue, RoutingKey: OrderRoutingKey},
			{Queue: CacheQueue, RoutingKey: CacheRoutingKey},
			{Queue: FirehoseQueue, RoutingKey: firehoseBinding},
		},
	}
}

type orderMessage struct {
	StockID int64 `json:"stock_id"`
	BuyerID int64 `json:"buyer_id"`
}

// QueueProducer turns a reservation request into a durable message, trading
// latency for contention-free serialized processing downstream. Acceptance
// only guarantees the reservation will be attempted, not that it succeeds.
type QueueProducer struct {
	logger *logrus.Logger
	broker port.MessageBroker
}

func NewQueueProducer(logger *logrus.Logger, broker port.MessageBroker) *QueueProducer {
	return &QueueProducer{logger: logger, broker: broker}
}

func (p *QueueProducer) Enqueue(ctx context.Context, stockID, buyerID int64) error {
	body, err := json.Marshal(orderMessage{StockID: stockID, BuyerID: buyerID})
	if err != nil {
		return fmt.Errorf("marshal order message: %w", err)
	}
	if err := p.broker.Publish(ctx, OrderExchange, OrderRoutingKey, body); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}
	p.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stock_id": stockID,
		"buyer_id": buyerID,
	}).Info("reservation request enqueued")
	return nil
}

// QueueConsumer processes order and cache-invalidation messages one at a
// time. A processing failure is logged, counted and still acknowledged:
// there is no redelivery, so FailedMessages is the only trace a queued
// request left no order behind.
type QueueConsumer struct {
	logger     *logrus.Logger
	broker     port.MessageBroker
	cache      port.KeyValueCache
	strategy   *OptimisticStrategy
	congestion time.Duration
	failed     atomic.Int64
}

func NewQueueConsumer(logger *logrus.Logger, broker port.MessageBroker, cache port.KeyValueCache, strategy *OptimisticStrategy, cfg config.Config) *QueueConsumer {
	return &QueueConsumer{
		logger:     logger,
		broker:     broker,
		cache:      cache,
		strategy:   strategy,
		congestion: cfg.ConsumerCongestion,
	}
}

// Run consumes the order and cache queues until ctx is cancelled. Each queue
// gets exactly one serialized consumer.
func (c *QueueConsumer) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	for _, queue := range []string{OrderQueue, CacheQueue} {
		go func(q string) {
			errCh <- c.broker.Consume(ctx, q, c.handle)
		}(queue)
	}

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FailedMessages reports how many deliveries were acknowledged without
// producing their intended effect.
func (c *QueueConsumer) FailedMessages() int64 {
	return c.failed.Load()
}

// HasOrdered reports whether the buyer already holds a queued-path order for
// the stock, from the buyer-order set the consumer maintains.
func (c *QueueConsumer) HasOrdered(ctx context.Context, stockID, buyerID int64) (bool, error) {
	ok, err := c.cache.InSet(ctx, buyerOrdersKey(stockID), strconv.FormatInt(buyerID, 10))
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return ok, nil
}

func (c *QueueConsumer) handle(ctx context.Context, routingKey string, body []byte) error {
	if c.congestion > 0 {
		select {
		case <-time.After(c.congestion):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch routingKey {
	case OrderRoutingKey:
		return c.handleOrder(ctx, body)
	case CacheRoutingKey:
		return c.handleCacheDelete(ctx, body)
	default:
		c.logger.WithContext(ctx).WithField("routing_key", routingKey).Warn("unrecognized routing key")
		return nil
	}
}

func (c *QueueConsumer) handleOrder(ctx context.Context, body []byte) error {
	var msg orderMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.failed.Add(1)
		c.logger.WithContext(ctx).WithError(err).Error("undecodable order message")
		return err
	}

	res, err := c.strategy.Reserve(ctx, msg.StockID, msg.BuyerID)
	if err != nil {
		c.failed.Add(1)
		c.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"stock_id": msg.StockID,
			"buyer_id": msg.BuyerID,
		}).Warn("queued reservation failed")
		return err
	}

	// The projection and the buyer-order set are best-effort; the order is
	// already durable.
	if err := c.cache.Delete(ctx, remainingKey(msg.StockID)); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("stock_id", msg.StockID).
			Warn("post-order cache invalidation failed")
	}
	if msg.BuyerID != domain.AnonymousBuyer {
		if _, err := c.cache.AddToSet(ctx, buyerOrdersKey(msg.StockID), strconv.FormatInt(msg.BuyerID, 10)); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("buyer_id", msg.BuyerID).
				Warn("buyer-order set update failed")
		}
	}

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stock_id":  msg.StockID,
		"buyer_id":  msg.BuyerID,
		"order_id":  res.OrderID,
		"remaining": res.Remaining,
	}).Info("queued reservation completed")
	return nil
}

func (c *QueueConsumer) handleCacheDelete(ctx context.Context, body []byte) error {
	key := string(body)
	if err := c.cache.Delete(ctx, key); err != nil {
		c.failed.Add(1)
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("queued cache invalidation failed")
		return err
	}
	c.logger.WithContext(ctx).WithField("key", key).Info("queued cache invalidation applied")
	return nil
}
