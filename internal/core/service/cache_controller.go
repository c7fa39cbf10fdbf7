package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/config"
	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

// CacheController keeps the remaining-stock projection consistent with the
// store. Reads are cache-aside; writes bracket a strategy call with one of
// four invalidation policies. Cache failures after a committed reservation
// are logged and swallowed: correctness of sold <= available depends only on
// the store, staleness heals on the next TTL expiry or cache miss.
type CacheController struct {
	logger *logrus.Logger
	store  port.StockStore
	cache  port.KeyValueCache
	broker port.MessageBroker // nil unless the durable double-delete policy is used
	ttl    time.Duration
	delay  time.Duration

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	pending sync.WaitGroup
}

func NewCacheController(logger *logrus.Logger, store port.StockStore, cache port.KeyValueCache, broker port.MessageBroker, cfg config.Config) *CacheController {
	return &CacheController{
		logger: logger,
		store:  store,
		cache:  cache,
		broker: broker,
		ttl:    cfg.CacheTTL,
		delay:  cfg.DoubleDeleteDelay,
		done:   make(chan struct{}),
	}
}

// GetRemaining returns the remaining unit count, serving from cache on a hit
// and populating the cache from the store on a miss.
func (c *CacheController) GetRemaining(ctx context.Context, stockID int64) (int, error) {
	raw, found, err := c.cache.Get(ctx, remainingKey(stockID))
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("stock_id", stockID).
			Warn("remaining-stock cache read failed, falling back to store")
	} else if found {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			return n, nil
		}
	}

	stock, err := c.store.GetStock(ctx, stockID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if stock == nil {
		return 0, domain.ErrUnknownStock
	}

	remaining := stock.Remaining()
	if err := c.cache.Set(ctx, remainingKey(stockID), strconv.Itoa(remaining), c.ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("stock_id", stockID).
			Warn("remaining-stock cache populate failed")
	}
	return remaining, nil
}

// ReserveInvalidateFirst deletes the cache entry, then runs the strategy.
// A concurrent reader can repopulate stale data between the delete and the
// commit; the double-delete policies exist to close that window.
func (c *CacheController) ReserveInvalidateFirst(ctx context.Context, stockID, buyerID int64, strat Strategy) (Reservation, error) {
	c.invalidate(ctx, stockID)
	return strat.Reserve(ctx, stockID, buyerID)
}

// ReserveInvalidateAfter runs the strategy, then deletes the cache entry.
// A reader between commit and delete sees stale cached data at most once.
func (c *CacheController) ReserveInvalidateAfter(ctx context.Context, stockID, buyerID int64, strat Strategy) (Reservation, error) {
	res, err := strat.Reserve(ctx, stockID, buyerID)
	if err != nil {
		return Reservation{}, err
	}
	c.invalidate(ctx, stockID)
	return res, nil
}

// ReserveDoubleDelete deletes, runs the strategy, then schedules a second
// delete after the configured delay to catch a stale repopulation that raced
// the write. The scheduled delete runs independently of this request.
func (c *CacheController) ReserveDoubleDelete(ctx context.Context, stockID, buyerID int64, strat Strategy) (Reservation, error) {
	c.invalidate(ctx, stockID)
	res, err := strat.Reserve(ctx, stockID, buyerID)
	if err != nil {
		return Reservation{}, err
	}
	c.scheduleDelete(stockID, false)
	return res, nil
}

// ReserveDoubleDeleteDurable is ReserveDoubleDelete, except that when the
// delayed local delete cannot run or fails, the invalidation is handed to
// the broker as a durable delete-key command so it still executes eventually.
func (c *CacheController) ReserveDoubleDeleteDurable(ctx context.Context, stockID, buyerID int64, strat Strategy) (Reservation, error) {
	c.invalidate(ctx, stockID)
	res, err := strat.Reserve(ctx, stockID, buyerID)
	if err != nil {
		return Reservation{}, err
	}
	c.scheduleDelete(stockID, true)
	return res, nil
}

func (c *CacheController) invalidate(ctx context.Context, stockID int64) {
	if err := c.cache.Delete(ctx, remainingKey(stockID)); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("stock_id", stockID).
			Warn("remaining-stock cache invalidation failed")
	}
}

// scheduleDelete registers a tracked timer task owned by this controller.
// Close cancels pending tasks; Wait joins them.
func (c *CacheController) scheduleDelete(stockID int64, durable bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if durable {
			c.publishDelete(stockID)
		} else {
			c.logger.WithField("stock_id", stockID).Warn("controller closed, delayed invalidation dropped")
		}
		return
	}
	c.pending.Add(1)
	c.mu.Unlock()

	timer := time.NewTimer(c.delay)
	go func() {
		defer c.pending.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := c.cache.Delete(ctx, remainingKey(stockID))
			if err == nil {
				return
			}
			c.logger.WithError(err).WithField("stock_id", stockID).Warn("delayed cache invalidation failed")
			if durable {
				c.publishDelete(stockID)
			}
		case <-c.done:
			if durable {
				c.publishDelete(stockID)
			} else {
				c.logger.WithField("stock_id", stockID).Warn("shutdown cancelled delayed invalidation")
			}
		}
	}()
}

func (c *CacheController) publishDelete(stockID int64) {
	if c.broker == nil {
		c.logger.WithField("stock_id", stockID).Error("no broker configured for durable cache invalidation")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.broker.Publish(ctx, OrderExchange, CacheRoutingKey, []byte(remainingKey(stockID))); err != nil {
		c.logger.WithError(err).WithField("stock_id", stockID).Error("durable cache invalidation publish failed")
	}
}

// Wait blocks until every scheduled invalidation has run.
func (c *CacheController) Wait() {
	c.pending.Wait()
}

// Close cancels scheduled invalidations and joins their goroutines. Durable
// ones are flushed through the broker instead of being dropped.
func (c *CacheController) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.pending.Wait()
}
