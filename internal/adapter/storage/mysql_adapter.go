package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

// MySQLAdapter is the authoritative inventory store.
//
// Schema:
//
//	stock  (id BIGINT PK, name VARCHAR, available INT, sold INT, version BIGINT, updated_at DATETIME)
//	buyers (id BIGINT PK, name VARCHAR)
//	orders (id CHAR(36) PK, stock_id BIGINT, buyer_id BIGINT, stock_name VARCHAR, created_at DATETIME)
type MySQLAdapter struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewMySQLAdapter(logger *logrus.Logger, db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{logger: logger, db: db}
}

func (m *MySQLAdapter) GetStock(ctx context.Context, stockID int64) (*domain.Stock, error) {
	var s domain.Stock
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, available, sold, version, updated_at
		FROM stock WHERE id = ?`, stockID,
	).Scan(&s.ID, &s.Name, &s.Available, &s.Sold, &s.Version, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return &s, nil
}

func (m *MySQLAdapter) GetBuyer(ctx context.Context, buyerID int64) (*domain.Buyer, error) {
	var b domain.Buyer
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name FROM buyers WHERE id = ?`, buyerID,
	).Scan(&b.ID, &b.Name)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query buyer: %w", err)
	}
	return &b, nil
}

// SaveStock overwrites sold and version with no guard. The unguarded
// baseline strategy is its only caller.
func (m *MySQLAdapter) SaveStock(ctx context.Context, stock domain.Stock) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE stock
		SET sold = ?, version = ?, updated_at = NOW()
		WHERE id = ?`,
		stock.Sold, stock.Version, stock.ID,
	)
	if err != nil {
		return fmt.Errorf("save stock: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ConditionalDecrement(ctx context.Context, stockID, expectedVersion int64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE stock
		SET sold = sold + 1, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		stockID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("conditional decrement: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional decrement rows: %w", err)
	}
	return rows > 0, nil
}

func (m *MySQLAdapter) InExclusiveLock(ctx context.Context, stockID int64, fn func(ls port.LockedStock) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var s domain.Stock
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, available, sold, version, updated_at
		FROM stock WHERE id = ?
		FOR UPDATE`, stockID,
	).Scan(&s.ID, &s.Name, &s.Available, &s.Sold, &s.Version, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUnknownStock
	}
	if err != nil {
		return fmt.Errorf("lock stock: %w", err)
	}

	if err := fn(&lockedStock{tx: tx, stock: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) InsertOrder(ctx context.Context, order domain.Order) error {
	return insertOrder(ctx, m.db, order)
}

type lockedStock struct {
	tx    *sql.Tx
	stock domain.Stock
}

func (l *lockedStock) Stock() domain.Stock {
	return l.stock
}

func (l *lockedStock) UpdateStock(ctx context.Context, sold int, version int64) error {
	_, err := l.tx.ExecContext(ctx, `
		UPDATE stock
		SET sold = ?, version = ?, updated_at = NOW()
		WHERE id = ?`,
		sold, version, l.stock.ID,
	)
	if err != nil {
		return fmt.Errorf("update locked stock: %w", err)
	}
	return nil
}

func (l *lockedStock) InsertOrder(ctx context.Context, order domain.Order) error {
	return insertOrder(ctx, l.tx, order)
}

type sqlCommand interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOrder(ctx context.Context, cmd sqlCommand, order domain.Order) error {
	_, err := cmd.ExecContext(ctx, `
		INSERT INTO orders (id, stock_id, buyer_id, stock_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.StockID, order.BuyerID, order.StockName, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
