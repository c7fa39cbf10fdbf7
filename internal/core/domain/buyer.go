package domain

// AnonymousBuyer marks an order that is not attributed to a registered buyer.
const AnonymousBuyer int64 = 0

type Buyer struct {
	ID   int64
	Name string
}
