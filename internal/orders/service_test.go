package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
	"github.com/modaluna/modaluna-backend/pkg/pagination"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func newOrdersService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	client := db.NewFromConn(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	stockSvc, err := stock.NewService(client, stock.NewRepository(conn), publisher)
	require.NoError(t, err)
	svc, err := NewService(client, NewRepository(conn), stockSvc, publisher)
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, conn *gorm.DB, userID uuid.UUID, status enums.OrderStatus, created time.Time) *models.Order {
	t.Helper()
	variant := &models.Variant{
		ID:        uuid.New(),
		ProductID: uuid.New(),
		SKU:       "MLN-" + uuid.NewString()[:8],
		Stock:     0,
	}
	require.NoError(t, conn.Create(variant).Error)

	order := &models.Order{
		ID:                uuid.New(),
		UserID:            userID,
		Status:            status,
		TotalAmount:       decimal.NewFromInt(200),
		Currency:          enums.CurrencyUSD,
		ShippingAddressID: uuid.New(),
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	require.NoError(t, conn.Create(order).Error)

	item := &models.OrderItem{
		ID:          uuid.New(),
		OrderID:     order.ID,
		VariantID:   variant.ID,
		ProductName: "Pleated Midi Skirt",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(100),
	}
	require.NoError(t, conn.Create(item).Error)
	order.Items = []models.OrderItem{*item}
	return order
}

func TestCanTransitionMatrix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to enums.OrderStatus
		allowed  bool
	}{
		{enums.OrderStatusPending, enums.OrderStatusPaid, true},
		{enums.OrderStatusPending, enums.OrderStatusCancelled, true},
		{enums.OrderStatusPending, enums.OrderStatusDelivered, false},
		{enums.OrderStatusPaid, enums.OrderStatusShipped, true},
		{enums.OrderStatusPaid, enums.OrderStatusCancelled, true},
		{enums.OrderStatusShipped, enums.OrderStatusDelivered, true},
		{enums.OrderStatusShipped, enums.OrderStatusCancelled, false},
		{enums.OrderStatusDelivered, enums.OrderStatusShipped, false},
		{enums.OrderStatusCancelled, enums.OrderStatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestMapExternalStatus(t *testing.T) {
	t.Parallel()

	if status, ok := MapExternalStatus("completed"); !ok || status != enums.OrderStatusDelivered {
		t.Fatalf("expected completed -> delivered, got %s %v", status, ok)
	}
	if _, ok := MapExternalStatus("refunded"); ok {
		t.Fatal("expected unknown status to be unmapped")
	}
}

func TestCancelRestoresStockAndEmitsEvent(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newOrdersService(t, conn)
	ctx := context.Background()
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.OrderStatusPending, time.Now())

	cancelled, err := svc.Cancel(ctx, userID, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	var variant models.Variant
	require.NoError(t, conn.First(&variant, "id = ?", order.Items[0].VariantID).Error)
	require.Equal(t, 2, variant.Stock)

	// the restore crossed zero, so a restock event rides along with the
	// status change
	var events []models.OutboxEvent
	require.NoError(t, conn.Order("created_at").Find(&events).Error)
	types := map[enums.OutboxEventType]bool{}
	for _, e := range events {
		types[e.EventType] = true
	}
	require.True(t, types[enums.EventOrderStatusChanged])
	require.True(t, types[enums.EventVariantRestocked])
}

func TestCancelRejectedAfterShipment(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newOrdersService(t, conn)
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.OrderStatusShipped, time.Now())

	_, err := svc.Cancel(context.Background(), userID, order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// stock untouched
	var variant models.Variant
	require.NoError(t, conn.First(&variant, "id = ?", order.Items[0].VariantID).Error)
	require.Equal(t, 0, variant.Stock)
}

func TestGetHidesOtherUsersOrders(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newOrdersService(t, conn)
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, time.Now())

	_, err := svc.Get(context.Background(), uuid.New(), order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCancelForbiddenForOtherUsersOrder(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newOrdersService(t, conn)
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, time.Now())

	_, err := svc.Cancel(context.Background(), uuid.New(), order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())

	var reloaded models.Order
	require.NoError(t, conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusPending, reloaded.Status)
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newOrdersService(t, conn)
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusPaid, time.Now())

	got, err := svc.Transition(context.Background(), order.ID, enums.OrderStatusPaid)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, got.Status)

	var events []models.OutboxEvent
	require.NoError(t, conn.Find(&events).Error)
	require.Empty(t, events)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newOrdersService(t, conn)
	ctx := context.Background()
	userID := uuid.New()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedOrder(t, conn, userID, enums.OrderStatusPending, base.Add(time.Duration(i)*time.Hour))
	}

	first, err := svc.List(ctx, userID, pagination.Params{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first.Orders, 3)
	require.NotEmpty(t, first.NextCursor)
	require.True(t, first.Orders[0].CreatedAt.After(first.Orders[2].CreatedAt))

	second, err := svc.List(ctx, userID, pagination.Params{Limit: 3, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Orders, 2)
	require.Empty(t, second.NextCursor)
}
