package domain

import "time"

type Stock struct {
	ID        int64
	Name      string
	Available int
	Sold      int
	Version   int64 // optimistic locking
	UpdatedAt time.Time
}

// Remaining is the number of units still purchasable.
func (s Stock) Remaining() int {
	return s.Available - s.Sold
}
