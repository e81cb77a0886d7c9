package returns

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Repository exposes return persistence and the aggregate counts behind the
// try-on metrics.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ret *models.Return) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error)
	HasOpenReturn(ctx context.Context, orderID uuid.UUID) (bool, error)
	CountDeliveredOrders(ctx context.Context, triedOn bool) (int64, error)
	CountReturns(ctx context.Context, triedOn bool) (int64, error)
	AvgReturnedOrderValue(ctx context.Context, triedOn bool) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a returns repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, ret *models.Return) error {
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(ret).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	var ret models.Return
	if err := r.db.WithContext(ctx).First(&ret, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error) {
	var rows []models.Return
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) HasOpenReturn(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Return{}).
		Where("order_id = ? AND status IN ?", orderID,
			[]enums.ReturnStatus{enums.ReturnStatusPending, enums.ReturnStatusApproved}).
		Count(&count).Error
	return count > 0, err
}

// CountDeliveredOrders counts delivered orders that do (or do not) contain at
// least one line previewed in the fitting room.
func (r *repository) CountDeliveredOrders(ctx context.Context, triedOn bool) (int64, error) {
	sub := r.db.Model(&models.OrderItem{}).
		Select("1").
		Where("order_items.order_id = orders.id AND order_items.tried_on_3d = ?", true)

	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("status = ?", enums.OrderStatusDelivered)
	if triedOn {
		query = query.Where("EXISTS (?)", sub)
	} else {
		query = query.Where("NOT EXISTS (?)", sub)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (r *repository) CountReturns(ctx context.Context, triedOn bool) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Return{}).
		Where("tried_on_3d = ?", triedOn).
		Count(&count).Error
	return count, err
}

// AvgReturnedOrderValue averages the total of every returned order in the
// bucket. Zero when the bucket has no returns.
func (r *repository) AvgReturnedOrderValue(ctx context.Context, triedOn bool) (decimal.Decimal, error) {
	var avg decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&models.Return{}).
		Select("AVG(orders.total_amount)").
		Joins("JOIN orders ON orders.id = returns.order_id").
		Where("returns.tried_on_3d = ?", triedOn).
		Scan(&avg).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !avg.Valid {
		return decimal.Zero, nil
	}
	return avg.Decimal, nil
}
