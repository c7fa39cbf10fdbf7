package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/config"
	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

// AdmissionCounter tracks per-buyer request counts over a rolling window.
// The ban verdict is advisory: callers consult it before invoking a
// reservation strategy, the strategies themselves never enforce it.
type AdmissionCounter struct {
	logger    *logrus.Logger
	cache     port.KeyValueCache
	threshold int64
	window    time.Duration
}

func NewAdmissionCounter(logger *logrus.Logger, cache port.KeyValueCache, cfg config.Config) *AdmissionCounter {
	return &AdmissionCounter{
		logger:    logger,
		cache:     cache,
		threshold: cfg.AdmissionThreshold,
		window:    cfg.AdmissionWindow,
	}
}

// RecordAndCheck counts this request and reports whether the buyer has
// exceeded the threshold within the window. The counter is created at zero
// with the window TTL on first sight and expires with it.
func (a *AdmissionCounter) RecordAndCheck(ctx context.Context, buyerID int64) (int64, bool, error) {
	key := admissionKey(buyerID)
	if _, err := a.cache.SetIfAbsent(ctx, key, "0", a.window); err != nil {
		return 0, false, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	count, err := a.cache.Increment(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}

	banned := count > a.threshold
	if banned {
		a.logger.WithContext(ctx).WithFields(logrus.Fields{
			"buyer_id": buyerID,
			"count":    count,
		}).Warn("buyer exceeded admission threshold")
	}
	return count, banned, nil
}

// Admit is the gate form of RecordAndCheck for callers that only need a
// pass/fail verdict before running a strategy.
func (a *AdmissionCounter) Admit(ctx context.Context, buyerID int64) error {
	count, banned, err := a.RecordAndCheck(ctx, buyerID)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("%w: buyer %d at %d requests", domain.ErrAdmissionDenied, buyerID, count)
	}
	return nil
}
