package returns

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/orders"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:returns_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
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
		`CREATE TABLE returns (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  reason_category TEXT NOT NULL DEFAULT 'other',
  tried_on_3d INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

func newReturnsService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(db.NewFromConn(conn), NewRepository(conn), orders.NewRepository(conn))
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, conn *gorm.DB, userID uuid.UUID, status enums.OrderStatus, triedOn bool) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:                uuid.New(),
		UserID:            userID,
		Status:            status,
		TotalAmount:       decimal.NewFromInt(100),
		Currency:          enums.CurrencyUSD,
		ShippingAddressID: uuid.New(),
	}
	require.NoError(t, conn.Create(order).Error)
	item := &models.OrderItem{
		ID:          uuid.New(),
		OrderID:     order.ID,
		VariantID:   uuid.New(),
		ProductName: "Knit Cardigan",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(100),
		TriedOn3D:   triedOn,
	}
	require.NoError(t, conn.Create(item).Error)
	order.Items = []models.OrderItem{*item}
	return order
}

func TestRequestReturnOnDeliveredOrder(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newReturnsService(t, conn)
	ctx := context.Background()
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.OrderStatusDelivered, true)

	ret, err := svc.RequestReturn(ctx, userID, order.ID, RequestInput{
		Reason:         "runs small",
		ReasonCategory: enums.ReturnReasonFit,
	})
	require.NoError(t, err)
	require.Equal(t, enums.ReturnStatusPending, ret.Status)
	require.True(t, ret.TriedOn3D)
}

func TestRequestReturnRejectedBeforeDelivery(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newReturnsService(t, conn)
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.OrderStatusShipped, false)

	_, err := svc.RequestReturn(context.Background(), userID, order.ID, RequestInput{Reason: "changed my mind"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestRequestReturnRejectedForOtherUsersOrder(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newReturnsService(t, conn)
	order := seedOrder(t, conn, uuid.New(), enums.OrderStatusDelivered, false)

	_, err := svc.RequestReturn(context.Background(), uuid.New(), order.ID, RequestInput{Reason: "wrong color"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestRequestReturnRejectsSecondOpenReturn(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newReturnsService(t, conn)
	ctx := context.Background()
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.OrderStatusDelivered, false)

	_, err := svc.RequestReturn(ctx, userID, order.ID, RequestInput{Reason: "seam defect", ReasonCategory: enums.ReturnReasonDefect})
	require.NoError(t, err)

	_, err = svc.RequestReturn(ctx, userID, order.ID, RequestInput{Reason: "seam defect again"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestComputeMetricsSplitsByTryOn(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newReturnsService(t, conn)
	ctx := context.Background()

	// four delivered with try-on, one returned; two delivered without, one returned
	var triedOrders []*models.Order
	for i := 0; i < 4; i++ {
		triedOrders = append(triedOrders, seedOrder(t, conn, uuid.New(), enums.OrderStatusDelivered, true))
	}
	plainA := seedOrder(t, conn, uuid.New(), enums.OrderStatusDelivered, false)
	seedOrder(t, conn, uuid.New(), enums.OrderStatusDelivered, false)
	// a pending order must not count toward either bucket
	seedOrder(t, conn, uuid.New(), enums.OrderStatusPending, true)

	// wildly different order values so the bucket averages can't blur together
	require.NoError(t, conn.Model(&models.Order{}).
		Where("id = ?", triedOrders[0].ID).
		Update("total_amount", decimal.NewFromInt(10)).Error)
	require.NoError(t, conn.Model(&models.Order{}).
		Where("id = ?", plainA.ID).
		Update("total_amount", decimal.NewFromInt(9000)).Error)

	_, err := svc.RequestReturn(ctx, triedOrders[0].UserID, triedOrders[0].ID, RequestInput{Reason: "runs small", ReasonCategory: enums.ReturnReasonFit})
	require.NoError(t, err)
	_, err = svc.RequestReturn(ctx, plainA.UserID, plainA.ID, RequestInput{Reason: "not as pictured", ReasonCategory: enums.ReturnReasonNotAsPictured})
	require.NoError(t, err)

	metrics, err := svc.ComputeMetrics(ctx)
	require.NoError(t, err)

	require.EqualValues(t, 4, metrics.TriedOn.DeliveredOrders)
	require.EqualValues(t, 1, metrics.TriedOn.Returns)
	require.True(t, metrics.TriedOn.ReturnRate.Equal(decimal.NewFromFloat(0.25)))
	require.True(t, metrics.TriedOn.AvgOrderValue.Equal(decimal.NewFromInt(10)))

	require.EqualValues(t, 2, metrics.NotTriedOn.DeliveredOrders)
	require.EqualValues(t, 1, metrics.NotTriedOn.Returns)
	require.True(t, metrics.NotTriedOn.ReturnRate.Equal(decimal.NewFromFloat(0.5)))
	require.True(t, metrics.NotTriedOn.AvgOrderValue.Equal(decimal.NewFromInt(9000)))
}

func TestComputeMetricsEmptyBucketAverageIsZero(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newReturnsService(t, conn)

	metrics, err := svc.ComputeMetrics(context.Background())
	require.NoError(t, err)
	require.True(t, metrics.TriedOn.AvgOrderValue.Equal(decimal.Zero))
	require.True(t, metrics.NotTriedOn.AvgOrderValue.Equal(decimal.Zero))
}
