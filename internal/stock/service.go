package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ReservationLine is one variant/quantity pair to decrement or restore.
type ReservationLine struct {
	VariantID uuid.UUID
	Qty       int
}

// Service owns all stock mutations. Checkout and cancellation call into it
// with their own transaction so stock changes commit or roll back together
// with the order.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error
	Restore(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error
	CurrentStock(ctx context.Context, variantID uuid.UUID) (int, error)
	GetVariant(ctx context.Context, variantID uuid.UUID) (*models.Variant, error)
	GetVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Variant, error)
	SetStock(ctx context.Context, variantID uuid.UUID, qty int) (*models.Variant, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	outbox outboxPublisher
}

// NewService builds the stock service.
func NewService(tx txRunner, repo Repository, publisher outboxPublisher) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{tx: tx, repo: repo, outbox: publisher}, nil
}

// Reserve decrements stock for every line or fails the whole batch. It must
// run inside the caller's transaction: the first shortfall returns an
// insufficient-stock error and the rollback undoes any earlier decrements.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		ok, err := repo.DecrementStock(ctx, line.VariantID, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrementing stock")
		}
		if !ok {
			variant, lookupErr := repo.FindVariant(ctx, line.VariantID)
			if lookupErr != nil {
				if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, lookupErr, "loading variant")
			}
			return pkgerrors.InsufficientStock(variant.SKU)
		}
	}
	return nil
}

// Restore adds stock back, emitting a restock event for every variant that
// crosses from zero to positive. Events ride the caller's transaction, so
// subscribers only hear about restocks that actually committed.
func (s *service) Restore(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		wasZero, err := repo.IncrementStock(ctx, line.VariantID, line.Qty)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restoring stock")
		}
		if wasZero {
			if err := s.emitRestocked(ctx, tx, repo, line.VariantID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) CurrentStock(ctx context.Context, variantID uuid.UUID) (int, error) {
	variant, err := s.GetVariant(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return variant.Stock, nil
}

func (s *service) GetVariant(ctx context.Context, variantID uuid.UUID) (*models.Variant, error) {
	variant, err := s.repo.FindVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variant")
	}
	return variant, nil
}

func (s *service) GetVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Variant, error) {
	variants, err := s.repo.FindVariants(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variants")
	}
	byID := make(map[uuid.UUID]models.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	return byID, nil
}

// SetStock overwrites the stock level in its own transaction. Used by the
// admin restock endpoint.
func (s *service) SetStock(ctx context.Context, variantID uuid.UUID, qty int) (*models.Variant, error) {
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative")
	}
	var result *models.Variant
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wasZero, err := repo.SetStock(ctx, variantID, qty)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "setting stock")
		}
		if wasZero && qty > 0 {
			if err := s.emitRestocked(ctx, tx, repo, variantID); err != nil {
				return err
			}
		}
		variant, err := repo.FindVariant(ctx, variantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variant")
		}
		result = variant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) emitRestocked(ctx context.Context, tx *gorm.DB, repo Repository, variantID uuid.UUID) error {
	variant, err := repo.FindVariant(ctx, variantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading restocked variant")
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventVariantRestocked,
		AggregateType: enums.AggregateVariant,
		AggregateID:   variant.ID,
		Data: outbox.VariantRestockedData{
			VariantID: variant.ID,
			SKU:       variant.SKU,
			NewStock:  variant.Stock,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting restock event")
	}
	return nil
}
