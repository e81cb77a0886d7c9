package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
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
	dsn := "file:notifications_" + uuid.NewString() + "?mode=memory&cache=shared"
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
		`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  reference_id TEXT,
  read_at DATETIME,
  created_at DATETIME
);`,
		`CREATE TABLE restock_subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  created_at DATETIME,
  CONSTRAINT ux_restock_subs_user_variant UNIQUE (user_id, variant_id)
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

func newNotificationsService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	client := db.NewFromConn(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	stockSvc, err := stock.NewService(client, stock.NewRepository(conn), publisher)
	require.NoError(t, err)
	svc, err := NewService(client, NewRepository(conn), stockSvc)
	require.NoError(t, err)
	return svc
}

func seedVariant(t *testing.T, conn *gorm.DB, sku string, stockLevel int) *models.Variant {
	t.Helper()
	variant := &models.Variant{
		ID:        uuid.New(),
		ProductID: uuid.New(),
		SKU:       sku,
		Stock:     stockLevel,
	}
	require.NoError(t, conn.Create(variant).Error)
	return variant
}

func TestSubscribeRestockIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	ctx := context.Background()
	userID := uuid.New()
	variant := seedVariant(t, conn, "MLN-BLAZER-021", 0)

	require.NoError(t, svc.SubscribeRestock(ctx, userID, variant.ID))
	require.NoError(t, svc.SubscribeRestock(ctx, userID, variant.ID))

	var count int64
	require.NoError(t, conn.Model(&models.RestockSubscription{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSubscribeRestockRejectsInStockVariant(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	variant := seedVariant(t, conn, "MLN-BLAZER-022", 3)

	err := svc.SubscribeRestock(context.Background(), uuid.New(), variant.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestFanOutRestockNotifiesAndBurnsSubscriptions(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	ctx := context.Background()
	variant := seedVariant(t, conn, "MLN-BLAZER-023", 0)

	userA := uuid.New()
	userB := uuid.New()
	require.NoError(t, svc.SubscribeRestock(ctx, userA, variant.ID))
	require.NoError(t, svc.SubscribeRestock(ctx, userB, variant.ID))

	notified, err := svc.FanOutRestock(ctx, variant.ID)
	require.NoError(t, err)
	require.Equal(t, 2, notified)

	var rows []models.Notification
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, enums.NotificationRestock, row.Type)
		require.Equal(t, variant.ID, *row.ReferenceID)
	}

	// subscriptions are one-shot: a second fan-out finds nobody
	notified, err = svc.FanOutRestock(ctx, variant.ID)
	require.NoError(t, err)
	require.Zero(t, notified)
}

func TestMarkReadEnforcesOwnership(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	ctx := context.Background()
	owner := uuid.New()

	row := &models.Notification{
		ID:     uuid.New(),
		UserID: owner,
		Type:   enums.NotificationOrderStatus,
	}
	require.NoError(t, conn.Create(row).Error)

	err := svc.MarkRead(ctx, uuid.New(), row.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	require.NoError(t, svc.MarkRead(ctx, owner, row.ID))

	var reloaded models.Notification
	require.NoError(t, conn.First(&reloaded, "id = ?", row.ID).Error)
	require.NotNil(t, reloaded.ReadAt)

	// marking an already-read notification is a no-op
	require.NoError(t, svc.MarkRead(ctx, owner, row.ID))
}

func TestMarkAllReadTouchesOnlyOwnUnread(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()

	readAt := time.Now().Add(-time.Minute)
	rows := []*models.Notification{
		{ID: uuid.New(), UserID: owner, Type: enums.NotificationOrderStatus},
		{ID: uuid.New(), UserID: owner, Type: enums.NotificationRestock},
		{ID: uuid.New(), UserID: owner, Type: enums.NotificationOrderStatus, ReadAt: &readAt},
		{ID: uuid.New(), UserID: stranger, Type: enums.NotificationOrderStatus},
	}
	for _, row := range rows {
		require.NoError(t, conn.Create(row).Error)
	}

	updated, err := svc.MarkAllRead(ctx, owner)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated)

	var unread int64
	require.NoError(t, conn.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", owner).Count(&unread).Error)
	require.Zero(t, unread)

	var strangerUnread int64
	require.NoError(t, conn.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", stranger).Count(&strangerUnread).Error)
	require.EqualValues(t, 1, strangerUnread)

	updated, err = svc.MarkAllRead(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestListForUserPaginates(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	ctx := context.Background()
	userID := uuid.New()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		row := &models.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      enums.NotificationOrderStatus,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, conn.Create(row).Error)
	}

	first, err := svc.ListForUser(ctx, userID, pagination.Params{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first.Notifications, 3)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListForUser(ctx, userID, pagination.Params{Limit: 3, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Notifications, 2)
	require.Empty(t, second.NextCursor)

	// newest first, no overlap across pages
	seen := map[uuid.UUID]bool{}
	all := append(first.Notifications, second.Notifications...)
	for i, row := range all {
		require.False(t, seen[row.ID])
		seen[row.ID] = true
		if i > 0 {
			require.False(t, row.CreatedAt.After(all[i-1].CreatedAt))
		}
	}
}

func TestNotifyOrderStatus(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newNotificationsService(t, conn)
	userID := uuid.New()
	orderID := uuid.New()

	require.NoError(t, svc.NotifyOrderStatus(context.Background(), userID, orderID))

	var row models.Notification
	require.NoError(t, conn.First(&row, "user_id = ?", userID).Error)
	require.Equal(t, enums.NotificationOrderStatus, row.Type)
	require.Equal(t, orderID, *row.ReferenceID)
}
