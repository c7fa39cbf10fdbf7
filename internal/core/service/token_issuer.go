package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/rl1809/rush-purchase/internal/config"
	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

// TokenIssuer hands out the short-lived proof binding a (stock, buyer) pair
// that the verified strategy checks before decrementing. The digest is
// deterministic over salt, stock and buyer, so re-issuing within the TTL
// yields the same token, while different buyers or items never collide.
type TokenIssuer struct {
	logger *logrus.Logger
	store  port.StockStore
	cache  port.KeyValueCache
	salt   string
	ttl    time.Duration
}

func NewTokenIssuer(logger *logrus.Logger, store port.StockStore, cache port.KeyValueCache, cfg config.Config) *TokenIssuer {
	return &TokenIssuer{
		logger: logger,
		store:  store,
		cache:  cache,
		salt:   cfg.VerifySalt,
		ttl:    cfg.TokenTTL,
	}
}

func (i *TokenIssuer) Issue(ctx context.Context, stockID, buyerID int64) (string, error) {
	buyer, err := i.store.GetBuyer(ctx, buyerID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if buyer == nil {
		return "", domain.ErrUnknownBuyer
	}

	stock, err := i.store.GetStock(ctx, stockID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if stock == nil {
		return "", domain.ErrUnknownStock
	}

	hash := verifyHash(i.salt, stockID, buyerID)
	key := verifyKey(stockID, buyerID)
	if err := i.cache.Set(ctx, key, hash, i.ttl); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}

	i.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stock_id": stockID,
		"buyer_id": buyerID,
		"key":      key,
	}).Debug("verification token issued")
	return hash, nil
}

func verifyHash(salt string, stockID, buyerID int64) string {
	payload := salt + strconv.FormatInt(stockID, 10) + strconv.FormatInt(buyerID, 10)
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
