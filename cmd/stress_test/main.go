package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/adapter/storage"
	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/core/service"
)

const (
	stockID       = int64(7001)
	initialStock  = 20
	totalRequests = 50
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()

	// Initialize MySQL
	db, err := sql.Open("mysql", envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/rushpurchase?parseTime=true"))
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	// Reset the test row and clear previous orders
	if _, err := db.ExecContext(ctx, `
		INSERT INTO stock (id, name, available, sold, version, updated_at)
		VALUES (?, 'stress-item', ?, 0, 0, NOW())
		ON DUPLICATE KEY UPDATE available = ?, sold = 0, version = 0`,
		stockID, initialStock, initialStock); err != nil {
		log.Fatalf("failed to reset stock: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM orders WHERE stock_id = ?`, stockID); err != nil {
		log.Fatalf("failed to clear orders: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMySQLAdapter(logger, db)
	strategy := service.NewOptimisticStrategy(logger, store)

	// Counters
	var successCount atomic.Int32
	var staleCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				_, err := strategy.Reserve(ctx, stockID, domain.AnonymousBuyer)
				switch {
				case err == nil:
					successCount.Add(1)
				case errors.Is(err, domain.ErrStaleVersion):
					// Version conflict: retry until the outcome is settled.
					staleCount.Add(1)
					continue
				case errors.Is(err, domain.ErrInsufficientStock):
					soldOutCount.Add(1)
				default:
					otherCount.Add(1)
					log.Printf("reserve failed: %v", err)
				}
				return
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:     %d\n", initialStock)
	fmt.Printf("Total Requests:    %d\n", totalRequests)
	fmt.Printf("Successful:        %d\n", success)
	fmt.Printf("Sold Out:          %d\n", soldOut)
	fmt.Printf("Version Conflicts: %d\n", staleCount.Load())
	fmt.Printf("Other Errors:      %d\n", otherCount.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && soldOut == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	// Verify the final row
	var sold int
	var orderCount int
	db.QueryRowContext(ctx, `SELECT sold FROM stock WHERE id = ?`, stockID).Scan(&sold)
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE stock_id = ?`, stockID).Scan(&orderCount)
	fmt.Printf("Final Sold:   %d\n", sold)
	fmt.Printf("Final Orders: %d\n", orderCount)

	if sold == initialStock && orderCount == initialStock {
		fmt.Println("PASS: Stock depleted with one order per unit")
	} else {
		fmt.Printf("FAIL: Expected sold=%d orders=%d\n", initialStock, initialStock)
	}
}
