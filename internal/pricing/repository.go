package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
)

// Repository exposes price history queries. Records are append-only; the only
// mutation besides insert is closing an open interval.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	Insert(ctx context.Context, record *models.PriceRecord) error
	FindCovering(ctx context.Context, productID uuid.UUID, at time.Time) ([]models.PriceRecord, error)
	FindOpen(ctx context.Context, productID uuid.UUID) ([]models.PriceRecord, error)
	CloseRecord(ctx context.Context, recordID uuid.UUID, at time.Time) error
	History(ctx context.Context, productID uuid.UUID, limit int) ([]models.PriceRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a pricing repository backed by the provided DB.
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

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) Insert(ctx context.Context, record *models.PriceRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// FindCovering returns every record whose interval contains the instant,
// newest valid_from first. Overlaps are resolved by the caller taking the
// first row.
func (r *repository) FindCovering(ctx context.Context, productID uuid.UUID, at time.Time) ([]models.PriceRecord, error) {
	var records []models.PriceRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)", productID, at, at).
		Order("valid_from DESC").
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

func (r *repository) FindOpen(ctx context.Context, productID uuid.UUID) ([]models.PriceRecord, error) {
	var records []models.PriceRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND valid_to IS NULL", productID).
		Order("valid_from ASC").
		Find(&records).Error
	return records, err
}

func (r *repository) CloseRecord(ctx context.Context, recordID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.PriceRecord{}).
		Where("id = ?", recordID).
		Update("valid_to", at).Error
}

func (r *repository) History(ctx context.Context, productID uuid.UUID, limit int) ([]models.PriceRecord, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("valid_from DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []models.PriceRecord
	err := query.Find(&records).Error
	return records, err
}
