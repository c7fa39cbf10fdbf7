package service

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/rush-purchase/internal/core/domain"
	"github.com/rl1809/rush-purchase/internal/port"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Mock StockStore
type mockStockStore struct {
	mu     sync.Mutex
	rowMu  sync.Mutex // serializes exclusive lock scopes
	stocks map[int64]domain.Stock
	buyers map[int64]domain.Buyer
	orders []domain.Order

	afterGet       func(stockID int64) // runs after GetStock returns its snapshot
	insertOrderErr error
}

func newMockStockStore() *mockStockStore {
	return &mockStockStore{
		stocks: make(map[int64]domain.Stock),
		buyers: make(map[int64]domain.Buyer),
	}
}

func (m *mockStockStore) putStock(s domain.Stock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[s.ID] = s
}

func (m *mockStockStore) putBuyer(b domain.Buyer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyers[b.ID] = b
}

func (m *mockStockStore) stockSnapshot(id int64) domain.Stock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks[id]
}

func (m *mockStockStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockStockStore) GetStock(ctx context.Context, stockID int64) (*domain.Stock, error) {
	m.mu.Lock()
	s, ok := m.stocks[stockID]
	m.mu.Unlock()
	if m.afterGet != nil {
		m.afterGet(stockID)
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockStockStore) GetBuyer(ctx context.Context, buyerID int64) (*domain.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[buyerID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *mockStockStore) SaveStock(ctx context.Context, stock domain.Stock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[stock.ID] = stock
	return nil
}

func (m *mockStockStore) ConditionalDecrement(ctx context.Context, stockID, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stocks[stockID]
	if !ok || s.Version != expectedVersion {
		return false, nil
	}
	s.Sold++
	s.Version++
	m.stocks[stockID] = s
	return true, nil
}

func (m *mockStockStore) InExclusiveLock(ctx context.Context, stockID int64, fn func(ls port.LockedStock) error) error {
	m.rowMu.Lock()
	defer m.rowMu.Unlock()

	m.mu.Lock()
	s, ok := m.stocks[stockID]
	m.mu.Unlock()
	if !ok {
		return domain.ErrUnknownStock
	}

	ls := &mockLockedStock{store: m, stock: s}
	if err := fn(ls); err != nil {
		return err // nothing applied: rollback
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ls.updated {
		s.Sold = ls.newSold
		s.Version = ls.newVersion
		m.stocks[stockID] = s
	}
	m.orders = append(m.orders, ls.inserted...)
	return nil
}

func (m *mockStockStore) InsertOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertOrderErr != nil {
		return m.insertOrderErr
	}
	m.orders = append(m.orders, order)
	return nil
}

type mockLockedStock struct {
	store      *mockStockStore
	stock      domain.Stock
	updated    bool
	newSold    int
	newVersion int64
	inserted   []domain.Order
}

func (l *mockLockedStock) Stock() domain.Stock {
	return l.stock
}

func (l *mockLockedStock) UpdateStock(ctx context.Context, sold int, version int64) error {
	l.updated = true
	l.newSold = sold
	l.newVersion = version
	return nil
}

func (l *mockLockedStock) InsertOrder(ctx context.Context, order domain.Order) error {
	l.inserted = append(l.inserted, order)
	return nil
}

// Mock KeyValueCache
type mockCache struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	sets   map[string]map[string]bool

	errGet    error
	errSet    error
	errDelete error
}

func newMockCache() *mockCache {
	return &mockCache{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		sets:   make(map[string]map[string]bool),
	}
}

func (m *mockCache) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *mockCache) setDeleteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errDelete = err
}

func (m *mockCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errGet != nil {
		return "", false, m.errGet
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errSet != nil {
		return m.errSet
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errSet != nil {
		return false, m.errSet
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errDelete != nil {
		return m.errDelete
	}
	delete(m.values, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockCache) Increment(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if v, ok := m.values[key]; ok {
		n, _ = strconv.ParseInt(v, 10, 64)
	}
	n++
	m.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *mockCache) AddToSet(ctx context.Context, key, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]bool)
	}
	if m.sets[key][member] {
		return 0, nil
	}
	m.sets[key][member] = true
	return 1, nil
}

func (m *mockCache) InSet(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[key][member], nil
}

// Mock MessageBroker: routes per topology bindings, delivers one message at
// a time per Consume loop.
type mockBroker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	topology port.Topology
	queues   map[string][]mockDelivery

	errPublish error
}

type mockDelivery struct {
	routingKey string
	body       []byte
}

func newMockBroker() *mockBroker {
	b := &mockBroker{queues: make(map[string][]mockDelivery)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *mockBroker) DeclareTopology(ctx context.Context, top port.Topology) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topology = top
	for _, q := range top.Queues {
		if _, ok := b.queues[q]; !ok {
			b.queues[q] = nil
		}
	}
	return nil
}

func (b *mockBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errPublish != nil {
		return b.errPublish
	}
	for _, binding := range b.topology.Bindings {
		if binding.RoutingKey == routingKey || binding.RoutingKey == "#" {
			b.queues[binding.Queue] = append(b.queues[binding.Queue], mockDelivery{routingKey: routingKey, body: body})
		}
	}
	b.cond.Broadcast()
	return nil
}

func (b *mockBroker) Consume(ctx context.Context, queue string, handler port.MessageHandler) error {
	go func() {
		<-ctx.Done()
		b.cond.Broadcast()
	}()

	for {
		b.mu.Lock()
		for len(b.queues[queue]) == 0 && ctx.Err() == nil {
			b.cond.Wait()
		}
		if ctx.Err() != nil {
			b.mu.Unlock()
			return nil
		}
		d := b.queues[queue][0]
		b.queues[queue] = b.queues[queue][1:]
		b.mu.Unlock()

		// ack after attempt, regardless of handler outcome
		_ = handler(ctx, d.routingKey, d.body)
	}
}

func (b *mockBroker) queueDepth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

func (b *mockBroker) lastDelivery(queue string) (mockDelivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	if len(q) == 0 {
		return mockDelivery{}, false
	}
	return q[len(q)-1], true
}
