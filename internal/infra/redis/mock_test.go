//go:build !integration

package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
)

// --- Mocks for cache and lock tests ---

// memRedis is an in-memory RedisClient. Any ...Func field overrides the
// default behavior for that call.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration

	GetFunc func(ctx context.Context, key string) (string, error)
}

var _ RedisClient = (*memRedis)(nil)

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	}
	return ""
}

func (m *memRedis) Ping(ctx context.Context) error { return nil }
func (m *memRedis) Close() error                   { return nil }

func (m *memRedis) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	m.ttls[key] = expiration
	return nil
}

func (m *memRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		delete(m.ttls, k)
	}
	return nil
}

func (m *memRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	m.ttls[key] = expiration
	return true, nil
}

func (m *memRedis) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *memRedis) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *memRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		m.ttls[key] = expiration
	}
	return nil
}

func (m *memRedis) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memRedis) ttl(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

// mockInnerGateway mocks the HTTP gateway that the cache decorator wraps.
type mockInnerGateway struct {
	mu           sync.Mutex
	pendingCalls int
	getCalls     int

	CreatePurchaseFunc              func(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error)
	ConfirmPurchaseFunc             func(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error)
	CancelPurchaseFunc              func(ctx context.Context, purchaseID string) error
	GetPurchaseFunc                 func(ctx context.Context, purchaseID string) (*model.Purchase, error)
	GetPendingPurchaseByJourneyFunc func(ctx context.Context, journeyID string) (*model.Purchase, error)
}

var _ adapter.PurchaseGateway = (*mockInnerGateway)(nil)

func (m *mockInnerGateway) CreatePurchase(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error) {
	return m.CreatePurchaseFunc(ctx, journeyID, method)
}
func (m *mockInnerGateway) ConfirmPurchase(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error) {
	return m.ConfirmPurchaseFunc(ctx, purchaseID, details)
}
func (m *mockInnerGateway) CancelPurchase(ctx context.Context, purchaseID string) error {
	return m.CancelPurchaseFunc(ctx, purchaseID)
}
func (m *mockInnerGateway) GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	return m.GetPurchaseFunc(ctx, purchaseID)
}
func (m *mockInnerGateway) GetPendingPurchaseByJourney(ctx context.Context, journeyID string) (*model.Purchase, error) {
	m.mu.Lock()
	m.pendingCalls++
	m.mu.Unlock()
	return m.GetPendingPurchaseByJourneyFunc(ctx, journeyID)
}

func (m *mockInnerGateway) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingCalls
}

func (m *mockInnerGateway) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}
