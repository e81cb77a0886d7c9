package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Repository exposes cart and cart item persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindActiveBySession(ctx context.Context, sessionID string) (*models.Cart, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	UpdateStatus(ctx context.Context, cartID uuid.UUID, status enums.CartStatus) error
	AssignUser(ctx context.Context, cartID, userID uuid.UUID) error
	Touch(ctx context.Context, cartID uuid.UUID) error
	FindItem(ctx context.Context, cartID, variantID uuid.UUID) (*models.CartItem, error)
	FindItemByID(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItem(ctx context.Context, itemID uuid.UUID, fields map[string]any) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a cart repository backed by the provided DB.
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

func (r *repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&cart, "user_id = ? AND status = ?", userID, enums.CartStatusActive).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) FindActiveBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&cart, "session_id = ? AND status = ?", sessionID, enums.CartStatusActive).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&cart, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(cart).Error
}

func (r *repository) UpdateStatus(ctx context.Context, cartID uuid.UUID, status enums.CartStatus) error {
	return r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("status", status).Error
}

func (r *repository) AssignUser(ctx context.Context, cartID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("user_id", userID).Error
}

func (r *repository) Touch(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

func (r *repository) FindItem(ctx context.Context, cartID, variantID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		First(&item, "cart_id = ? AND variant_id = ?", cartID, variantID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindItemByID(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) UpdateItem(ctx context.Context, itemID uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(fields).Error
}

func (r *repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.CartItem{}, "id = ?", itemID).Error
}
