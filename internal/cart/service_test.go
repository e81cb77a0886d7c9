package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/pricing"
	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  base_price NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
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
		`CREATE TABLE price_records (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  price NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  valid_from DATETIME NOT NULL,
  valid_to DATETIME,
  created_at DATETIME
);`,
		`CREATE TABLE carts (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  session_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  currency TEXT NOT NULL DEFAULT 'USD',
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE UNIQUE INDEX ux_carts_active_user ON carts (user_id) WHERE status = 'active' AND user_id IS NOT NULL;`,
		`CREATE UNIQUE INDEX ux_carts_active_session ON carts (session_id) WHERE status = 'active' AND session_id IS NOT NULL;`,
		`CREATE TABLE cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  variant_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  unit_price NUMERIC NOT NULL,
  tried_on_3d INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE UNIQUE INDEX ux_cart_items_cart_variant ON cart_items (cart_id, variant_id);`,
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

func newCartService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	client := db.NewFromConn(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	stockSvc, err := stock.NewService(client, stock.NewRepository(conn), publisher)
	require.NoError(t, err)
	pricingSvc, err := pricing.NewService(client, pricing.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(client, NewRepository(conn), stockSvc, pricingSvc)
	require.NoError(t, err)
	return svc
}

func seedCatalog(t *testing.T, conn *gorm.DB, sku string, basePrice int64, stockQty int) (*models.Product, *models.Variant) {
	t.Helper()
	product := &models.Product{
		ID:        uuid.New(),
		Name:      "Silk Slip Dress",
		BasePrice: decimal.NewFromInt(basePrice),
		Currency:  enums.CurrencyUSD,
		IsActive:  true,
	}
	require.NoError(t, conn.Create(product).Error)
	variant := &models.Variant{
		ID:        uuid.New(),
		ProductID: product.ID,
		SKU:       sku,
		Stock:     stockQty,
	}
	require.NoError(t, conn.Create(variant).Error)
	return product, variant
}

func userIdentity(userID uuid.UUID) Identity {
	return Identity{UserID: &userID}
}

func sessionIdentity(sessionID string) Identity {
	return Identity{SessionID: &sessionID}
}

func TestGetOrCreateIsStablePerUser(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.GetOrCreate(ctx, userIdentity(userID))
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, userIdentity(userID))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&models.Cart{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGetOrCreatePrefersUserCartOverSession(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	userID := uuid.New()
	session := "sess-" + uuid.NewString()

	userCart, err := svc.GetOrCreate(ctx, userIdentity(userID))
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, sessionIdentity(session))
	require.NoError(t, err)

	both := Identity{UserID: &userID, SessionID: &session}
	got, err := svc.GetOrCreate(ctx, both)
	require.NoError(t, err)
	require.Equal(t, userCart.ID, got.ID)
}

func TestGetOrCreateDualIdentityBindsUserOnly(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	userID := uuid.New()
	session := "sess-" + uuid.NewString()

	created, err := svc.GetOrCreate(ctx, Identity{UserID: &userID, SessionID: &session})
	require.NoError(t, err)

	var reloaded models.Cart
	require.NoError(t, conn.First(&reloaded, "id = ?", created.ID).Error)
	require.NotNil(t, reloaded.UserID)
	require.Equal(t, userID, *reloaded.UserID)
	require.Nil(t, reloaded.SessionID)
}

func TestAddItemMergesDuplicateVariantLines(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, variant := seedCatalog(t, conn, "MLN-SLIP-001", 90, 10)
	identity := userIdentity(uuid.New())

	_, err := svc.AddItem(ctx, identity, variant.ID, 2)
	require.NoError(t, err)
	cart, err := svc.AddItem(ctx, identity, variant.ID, 3)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	require.Equal(t, 5, cart.Items[0].Quantity)
}

func TestAddItemAdvisoryStockCheck(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, variant := seedCatalog(t, conn, "MLN-SLIP-002", 90, 3)
	identity := userIdentity(uuid.New())

	_, err := svc.AddItem(ctx, identity, variant.ID, 2)
	require.NoError(t, err)

	// the merged quantity would exceed stock
	_, err = svc.AddItem(ctx, identity, variant.ID, 2)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, variant := seedCatalog(t, conn, "MLN-SLIP-003", 90, 10)
	identity := userIdentity(uuid.New())

	cart, err := svc.AddItem(ctx, identity, variant.ID, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	cart, err = svc.UpdateQuantity(ctx, identity, cart.Items[0].ID, 0)
	require.NoError(t, err)
	require.Empty(t, cart.Items)
}

func TestItemOwnershipEnforced(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, variant := seedCatalog(t, conn, "MLN-SLIP-004", 90, 10)

	owner := userIdentity(uuid.New())
	intruder := userIdentity(uuid.New())

	cart, err := svc.AddItem(ctx, owner, variant.ID, 1)
	require.NoError(t, err)
	// the intruder needs an active cart of their own for the lookup to reach
	// the ownership check
	_, err = svc.GetOrCreate(ctx, intruder)
	require.NoError(t, err)

	_, err = svc.UpdateQuantity(ctx, intruder, cart.Items[0].ID, 5)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestMarkItemTriedOn(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, variant := seedCatalog(t, conn, "MLN-SLIP-005", 90, 10)
	identity := userIdentity(uuid.New())

	cart, err := svc.AddItem(ctx, identity, variant.ID, 1)
	require.NoError(t, err)
	cart, err = svc.MarkItemTriedOn(ctx, identity, cart.Items[0].ID, true)
	require.NoError(t, err)
	require.True(t, cart.Items[0].TriedOn3D)
}

func TestMergeGuestCartSumsQuantitiesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, shared := seedCatalog(t, conn, "MLN-SLIP-006", 90, 20)
	_, guestOnly := seedCatalog(t, conn, "MLN-SLIP-007", 60, 20)

	userID := uuid.New()
	session := "sess-" + uuid.NewString()

	_, err := svc.AddItem(ctx, userIdentity(userID), shared.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, sessionIdentity(session), shared.ID, 3)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, sessionIdentity(session), guestOnly.ID, 1)
	require.NoError(t, err)

	merged, err := svc.MergeGuestCart(ctx, userID, session)
	require.NoError(t, err)
	require.Len(t, merged.Items, 2)
	byVariant := map[uuid.UUID]int{}
	for _, item := range merged.Items {
		byVariant[item.VariantID] = item.Quantity
	}
	require.Equal(t, 5, byVariant[shared.ID])
	require.Equal(t, 1, byVariant[guestOnly.ID])

	var guestCart models.Cart
	require.NoError(t, conn.First(&guestCart, "session_id = ?", session).Error)
	require.Equal(t, enums.CartStatusConverted, guestCart.Status)

	// replaying the merge must not double quantities
	again, err := svc.MergeGuestCart(ctx, userID, session)
	require.NoError(t, err)
	require.Equal(t, merged.ID, again.ID)
	require.Len(t, again.Items, 2)
	for _, item := range again.Items {
		require.Equal(t, byVariant[item.VariantID], item.Quantity)
	}
}

func TestMergeGuestCartAdoptsWhenUserHasNoCart(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	_, variant := seedCatalog(t, conn, "MLN-SLIP-008", 90, 10)

	userID := uuid.New()
	session := "sess-" + uuid.NewString()
	guest, err := svc.AddItem(ctx, sessionIdentity(session), variant.ID, 2)
	require.NoError(t, err)

	merged, err := svc.MergeGuestCart(ctx, userID, session)
	require.NoError(t, err)
	require.Equal(t, guest.ID, merged.ID)
	require.NotNil(t, merged.UserID)
	require.Equal(t, userID, *merged.UserID)
}

func TestComputeTotalsUsesCurrentPrices(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	product, variant := seedCatalog(t, conn, "MLN-SLIP-009", 90, 10)
	identity := userIdentity(uuid.New())

	_, err := svc.AddItem(ctx, identity, variant.ID, 2)
	require.NoError(t, err)

	// price changes after the line was added; totals must reflect it
	record := &models.PriceRecord{
		ID:        uuid.New(),
		ProductID: product.ID,
		Price:     decimal.NewFromInt(120),
		Currency:  enums.CurrencyUSD,
		ValidFrom: time.Now().Add(-time.Minute),
	}
	require.NoError(t, conn.Create(record).Error)

	totals, err := svc.ComputeTotals(ctx, identity)
	require.NoError(t, err)
	require.Len(t, totals.Lines, 1)
	require.True(t, totals.Lines[0].UnitPrice.Equal(decimal.NewFromInt(120)))
	require.True(t, totals.Subtotal.Equal(decimal.NewFromInt(240)))
	require.True(t, totals.Discount.IsZero())
	require.True(t, totals.Total.Equal(totals.Subtotal))
	require.Equal(t, 2, totals.ItemCount)
}

func TestAbandonAllowsFreshCart(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newCartService(t, conn)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.GetOrCreate(ctx, userIdentity(userID))
	require.NoError(t, err)
	require.NoError(t, svc.Abandon(ctx, userIdentity(userID)))

	second, err := svc.GetOrCreate(ctx, userIdentity(userID))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}
