package domain

import "time"

// Order is append-only: created exactly once per successful reservation and
// never mutated afterwards.
type Order struct {
	ID        string
	StockID   int64
	BuyerID   int64 // AnonymousBuyer when the path carries no identity
	StockName string
	CreatedAt time.Time
}
