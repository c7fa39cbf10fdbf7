package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

// Reservation is the outcome of a successful stock decrement.
type Reservation struct {
	OrderID   string
	Remaining int
}

// Strategy is the common contract of the stock-decrement algorithms. Each
// strategy is a named type constructed explicitly by the caller; there is no
// registry and no ambient selection.
type Strategy interface {
	Reserve(ctx context.Context, stockID, buyerID int64) (Reservation, error)
}

func newOrder(stock *domain.Stock, buyerID int64) domain.Order {
	return domain.Order{
		ID:        uuid.NewString(),
		StockID:   stock.ID,
		BuyerID:   buyerID,
		StockName: stock.Name,
		CreatedAt: time.Now(),
	}
}

// UnguardedStrategy reads, checks and writes with no guard at all. Two
// concurrent callers can both pass the check and both write, overselling the
// stock. Kept only as the baseline the guarded strategies are measured
// against; never a remediation.
type UnguardedStrategy struct {
	logger *logrus.Logger
	store  port.StockStore
}

func NewUnguardedStrategy(logger *logrus.Logger, store port.StockStore) *UnguardedStrategy {
	return &UnguardedStrategy{logger: logger, store: store}
}

func (s *UnguardedStrategy) Reserve(ctx context.Context, stockID, buyerID int64) (Reservation, error) {
	stock, err := s.store.GetStock(ctx, stockID)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if stock == nil {
		return Reservation{}, domain.ErrUnknownStock
	}
	if stock.Sold >= stock.Available {
		return Reservation{}, domain.ErrInsufficientStock
	}

	// Lost-update window: the check above ran against a snapshot that may
	// already be stale by the time this write lands.
	stock.Sold++
	stock.Version++
	if err := s.store.SaveStock(ctx, *stock); err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	order := newOrder(stock, buyerID)
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return Reservation{OrderID: order.ID, Remaining: stock.Available - stock.Sold}, nil
}

// OptimisticStrategy decrements through a version-conditioned update. It
// never blocks; losing a race surfaces as ErrStaleVersion and retrying is
// the caller's choice.
type OptimisticStrategy struct {
	logger *logrus.Logger
	store  port.StockStore
}

func NewOptimisticStrategy(logger *logrus.Logger, store port.StockStore) *OptimisticStrategy {
	return &OptimisticStrategy{logger: logger, store: store}
}

func (s *OptimisticStrategy) Reserve(ctx context.Context, stockID, buyerID int64) (Reservation, error) {
	stock, err := s.store.GetStock(ctx, stockID)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if stock == nil {
		return Reservation{}, domain.ErrUnknownStock
	}
	if stock.Sold >= stock.Available {
		return Reservation{}, domain.ErrInsufficientStock
	}

	ok, err := s.store.ConditionalDecrement(ctx, stockID, stock.Version)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return Reservation{}, domain.ErrStaleVersion
	}

	order := newOrder(stock, buyerID)
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	remaining := stock.Available - stock.Sold - 1
	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stock_id":  stockID,
		"order_id":  order.ID,
		"remaining": remaining,
	}).Debug("optimistic reservation committed")
	return Reservation{OrderID: order.ID, Remaining: remaining}, nil
}

// PessimisticStrategy serializes writers on an exclusive row lock held for
// the duration of one transaction. Mutual exclusion comes from the store,
// not from application logic; each caller re-validates under the lock.
type PessimisticStrategy struct {
	logger *logrus.Logger
	store  port.StockStore
}

func NewPessimisticStrategy(logger *logrus.Logger, store port.StockStore) *PessimisticStrategy {
	return &PessimisticStrategy{logger: logger, store: store}
}

func (s *PessimisticStrategy) Reserve(ctx context.Context, stockID, buyerID int64) (Reservation, error) {
	var res Reservation
	err := s.store.InExclusiveLock(ctx, stockID, func(ls port.LockedStock) error {
		stock := ls.Stock()
		if stock.Sold >= stock.Available {
			return domain.ErrInsufficientStock
		}
		if err := ls.UpdateStock(ctx, stock.Sold+1, stock.Version+1); err != nil {
			return err
		}
		order := newOrder(&stock, buyerID)
		if err := ls.InsertOrder(ctx, order); err != nil {
			return err
		}
		res = Reservation{OrderID: order.ID, Remaining: stock.Available - stock.Sold - 1}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrUnknownStock) {
			return Reservation{}, err
		}
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return res, nil
}

// VerifiedStrategy couples identity verification to the decrement: a
// previously issued verification token gates the write, then the optimistic
// algorithm performs it. The production-grade path.
type VerifiedStrategy struct {
	logger     *logrus.Logger
	store      port.StockStore
	cache      port.KeyValueCache
	optimistic *OptimisticStrategy
}

func NewVerifiedStrategy(logger *logrus.Logger, store port.StockStore, cache port.KeyValueCache, optimistic *OptimisticStrategy) *VerifiedStrategy {
	return &VerifiedStrategy{logger: logger, store: store, cache: cache, optimistic: optimistic}
}

func (s *VerifiedStrategy) Reserve(ctx context.Context, stockID, buyerID int64, verifyHash string) (Reservation, error) {
	stored, found, err := s.cache.Get(ctx, verifyKey(stockID, buyerID))
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	if !found || stored != verifyHash {
		return Reservation{}, domain.ErrInvalidVerificationToken
	}

	buyer, err := s.store.GetBuyer(ctx, buyerID)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if buyer == nil {
		return Reservation{}, domain.ErrUnknownBuyer
	}

	stock, err := s.store.GetStock(ctx, stockID)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if stock == nil {
		return Reservation{}, domain.ErrUnknownStock
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stock_id": stockID,
		"buyer_id": buyerID,
	}).Debug("verification token accepted")

	return s.optimistic.Reserve(ctx, stockID, buyerID)
}
