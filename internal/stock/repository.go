package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
)

// Repository exposes variant stock queries and the conditional mutations the
// ledger is built on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindVariant(ctx context.Context, id uuid.UUID) (*models.Variant, error)
	FindVariants(ctx context.Context, ids []uuid.UUID) ([]models.Variant, error)
	FindVariantBySKU(ctx context.Context, sku string) (*models.Variant, error)
	DecrementStock(ctx context.Context, variantID uuid.UUID, qty int) (bool, error)
	IncrementStock(ctx context.Context, variantID uuid.UUID, qty int) (wasZero bool, err error)
	SetStock(ctx context.Context, variantID uuid.UUID, qty int) (wasZero bool, err error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stock repository backed by the provided DB.
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

func (r *repository) FindVariant(ctx context.Context, id uuid.UUID) (*models.Variant, error) {
	var variant models.Variant
	if err := r.db.WithContext(ctx).First(&variant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *repository) FindVariants(ctx context.Context, ids []uuid.UUID) ([]models.Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var variants []models.Variant
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&variants).Error
	return variants, err
}

func (r *repository) FindVariantBySKU(ctx context.Context, sku string) (*models.Variant, error) {
	var variant models.Variant
	if err := r.db.WithContext(ctx).First(&variant, "sku = ?", sku).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

// DecrementStock subtracts qty only when enough stock remains. The guard
// lives in the WHERE clause so concurrent checkouts can never drive stock
// negative; the loser simply affects zero rows.
func (r *repository) DecrementStock(ctx context.Context, variantID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Variant{}).
		Where("id = ? AND stock >= ?", variantID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementStock adds qty back and reports whether the variant was sold out
// beforehand. The zero-stock case is attempted first as its own conditional
// update so the transition is detected without row locks.
func (r *repository) IncrementStock(ctx context.Context, variantID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Variant{}).
		Where("id = ? AND stock = 0", variantID).
		Update("stock", qty)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	res = r.db.WithContext(ctx).Model(&models.Variant{}).
		Where("id = ?", variantID).
		Update("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return false, nil
}

// SetStock overwrites the stock level and reports whether the variant was
// sold out beforehand.
func (r *repository) SetStock(ctx context.Context, variantID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Variant{}).
		Where("id = ? AND stock = 0", variantID).
		Update("stock", qty)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	res = r.db.WithContext(ctx).Model(&models.Variant{}).
		Where("id = ?", variantID).
		Update("stock", qty)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return false, nil
}
