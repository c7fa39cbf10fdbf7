package service

import "strconv"

// Cache key layout. Entries are independently keyed per stock or buyer, so
// no cross-key coordination is ever needed.
const (
	remainingKeyPrefix   = "stock:remaining:"
	verifyKeyPrefix      = "stock:verify:"
	admissionKeyPrefix   = "buyer:limit:"
	buyerOrdersKeyPrefix = "stock:buyers:"
)

func remainingKey(stockID int64) string {
	return remainingKeyPrefix + strconv.FormatInt(stockID, 10)
}

func verifyKey(stockID, buyerID int64) string {
	return verifyKeyPrefix + strconv.FormatInt(stockID, 10) + ":" + strconv.FormatInt(buyerID, 10)
}

func admissionKey(buyerID int64) string {
	return admissionKeyPrefix + strconv.FormatInt(buyerID, 10)
}

func buyerOrdersKey(stockID int64) string {
	return buyerOrdersKeyPrefix + strconv.FormatInt(stockID, 10)
}
