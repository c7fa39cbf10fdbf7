package port

import (
	"context"

	"github.com/rl1809/rush-purchase/internal/core/domain"
)

// LockedStock is the scoped handle a StockStore exposes while it holds an
// exclusive lock on a stock row. Every call runs inside the same transaction;
// the scope commits when the callback returns nil and rolls back otherwise.
type LockedStock interface {
	// Stock returns the row as read under the lock.
	Stock() domain.Stock

	// UpdateStock writes the sold counter and version back to the locked row.
	UpdateStock(ctx context.Context, sold int, version int64) error

	// InsertOrder appends an order within the same transaction.
	InsertOrder(ctx context.Context, order domain.Order) error
}

type StockStore interface {
	// GetStock retrieves a stock record by ID, nil if absent.
	GetStock(ctx context.Context, stockID int64) (*domain.Stock, error)

	// GetBuyer retrieves a buyer by ID, nil if absent.
	GetBuyer(ctx context.Context, buyerID int64) (*domain.Buyer, error)

	// SaveStock writes sold and version without any concurrency guard.
	// Only the unguarded baseline strategy calls this.
	SaveStock(ctx context.Context, stock domain.Stock) error

	// ConditionalDecrement increments sold and version iff the row still
	// carries expectedVersion. Returns false when a concurrent writer won.
	ConditionalDecrement(ctx context.Context, stockID, expectedVersion int64) (bool, error)

	// InExclusiveLock acquires an exclusive lock on the stock row and runs fn
	// with a scoped transaction handle. Returns domain.ErrUnknownStock when
	// the row does not exist.
	InExclusiveLock(ctx context.Context, stockID int64, fn func(ls LockedStock) error) error

	// InsertOrder appends an order outside any lock scope.
	InsertOrder(ctx context.Context, order domain.Order) error
}
