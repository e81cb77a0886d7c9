package fulfillment

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/orders"
	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

// memoryIdempotencyStore mimics the redis SetNX contract in memory.
type memoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{keys: map[string]string{}}
}

func (m *memoryIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key]; exists {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func (m *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE variants (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  sku TEXT NOT NULL UNIQUE,
  size TEXT,
  color TEXT,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  price_override NUMERIC,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  total_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  shipping_address_id TEXT NOT NULL,
  external_ref TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  unit_price NUMERIC NOT NULL,
  tried_on_3d INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
		`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type fixture struct {
	conn    *gorm.DB
	service Service
	store   *memoryIdempotencyStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := newTestDB(t)
	client := db.NewFromConn(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	stockSvc, err := stock.NewService(client, stock.NewRepository(conn), publisher)
	require.NoError(t, err)
	ordersRepo := orders.NewRepository(conn)
	ordersSvc, err := orders.NewService(client, ordersRepo, stockSvc, publisher)
	require.NoError(t, err)

	store := newMemoryIdempotencyStore()
	logg := logger.New(logger.Options{ServiceName: "fulfillment-test", Output: io.Discard})
	svc, err := NewService(ordersRepo, ordersSvc, store, time.Hour, logg, nil)
	require.NoError(t, err)
	return &fixture{conn: conn, service: svc, store: store}
}

func (f *fixture) seedOrder(t *testing.T, status enums.OrderStatus, externalRef string) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		Status:            status,
		TotalAmount:       decimal.NewFromInt(120),
		Currency:          enums.CurrencyUSD,
		ShippingAddressID: uuid.New(),
		ExternalRef:       &externalRef,
	}
	require.NoError(t, f.conn.Create(order).Error)
	return order
}

func TestHandleEventAppliesMappedStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusShipped, "ff-1001")

	result, err := f.service.HandleEvent(ctx, Event{
		EventID:     "evt-1",
		ExternalRef: "ff-1001",
		Status:      "completed",
	})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, result)

	var reloaded models.Order
	require.NoError(t, f.conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusDelivered, reloaded.Status)
}

func TestHandleEventDuplicateDeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusPaid, "ff-1002")

	event := Event{EventID: "evt-2", ExternalRef: "ff-1002", Status: "shipped"}
	result, err := f.service.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, ResultApplied, result)

	result, err = f.service.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, result)

	var reloaded models.Order
	require.NoError(t, f.conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusShipped, reloaded.Status)

	var eventCount int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Count(&eventCount).Error)
	require.EqualValues(t, 1, eventCount)
}

func TestHandleEventUnknownStatusIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusPaid, "ff-1003")

	result, err := f.service.HandleEvent(context.Background(), Event{
		EventID:     "evt-3",
		ExternalRef: "ff-1003",
		Status:      "refund_requested",
	})
	require.NoError(t, err)
	require.Equal(t, ResultUnknownStatus, result)

	var reloaded models.Order
	require.NoError(t, f.conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusPaid, reloaded.Status)
}

func TestHandleEventUnmatchedRefAcknowledged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.service.HandleEvent(context.Background(), Event{
		EventID:     "evt-4",
		ExternalRef: "ff-nope",
		Status:      "shipped",
	})
	require.NoError(t, err)
	require.Equal(t, ResultUnmatched, result)
}

func TestHandleEventIllegalTransitionDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDelivered, "ff-1005")

	result, err := f.service.HandleEvent(context.Background(), Event{
		EventID:     "evt-5",
		ExternalRef: "ff-1005",
		Status:      "paid",
	})
	require.NoError(t, err)
	require.Equal(t, ResultDropped, result)

	var reloaded models.Order
	require.NoError(t, f.conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusDelivered, reloaded.Status)
}
