package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PriceSource says where a resolved price came from.
type PriceSource string

const (
	SourceRecord PriceSource = "record"
	SourceBase   PriceSource = "base"
)

// ResolvedPrice is the authoritative price of a product at one instant.
type ResolvedPrice struct {
	ProductID uuid.UUID
	Price     decimal.Decimal
	Currency  enums.Currency
	Source    PriceSource
	ValidFrom time.Time
	ValidTo   *time.Time
}

// SetPriceInput captures a new price interval.
type SetPriceInput struct {
	Price     decimal.Decimal
	Currency  enums.Currency
	ValidFrom time.Time
	ValidTo   *time.Time
}

// Service resolves product prices at arbitrary instants and manages the
// price history.
type Service interface {
	CurrentPrice(ctx context.Context, productID uuid.UUID, at time.Time) (*ResolvedPrice, error)
	ResolveWithTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID, at time.Time) (*ResolvedPrice, error)
	History(ctx context.Context, productID uuid.UUID, limit int) ([]models.PriceRecord, error)
	SetPrice(ctx context.Context, productID uuid.UUID, input SetPriceInput) (*models.PriceRecord, error)
}

type service struct {
	tx   txRunner
	repo Repository
}

// NewService builds the pricing service.
func NewService(tx txRunner, repo Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	return &service{tx: tx, repo: repo}, nil
}

func (s *service) CurrentPrice(ctx context.Context, productID uuid.UUID, at time.Time) (*ResolvedPrice, error) {
	return s.resolve(ctx, s.repo, productID, at)
}

// ResolveWithTx resolves against the caller's transaction so checkout reads
// prices at the same snapshot it writes the order under.
func (s *service) ResolveWithTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID, at time.Time) (*ResolvedPrice, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	return s.resolve(ctx, s.repo.WithTx(tx), productID, at)
}

func (s *service) resolve(ctx context.Context, repo Repository, productID uuid.UUID, at time.Time) (*ResolvedPrice, error) {
	if at.IsZero() {
		at = time.Now()
	}
	records, err := repo.FindCovering(ctx, productID, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying price records")
	}
	if len(records) > 0 {
		// overlapping intervals resolve to the most recently started one
		record := records[0]
		return &ResolvedPrice{
			ProductID: productID,
			Price:     record.Price,
			Currency:  record.Currency,
			Source:    SourceRecord,
			ValidFrom: record.ValidFrom,
			ValidTo:   record.ValidTo,
		}, nil
	}

	product, err := repo.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	// no history covers the instant: the base price acts as an open record
	// that has been valid forever
	return &ResolvedPrice{
		ProductID: productID,
		Price:     product.BasePrice,
		Currency:  product.Currency,
		Source:    SourceBase,
		ValidFrom: time.Unix(0, 0).UTC(),
	}, nil
}

func (s *service) History(ctx context.Context, productID uuid.UUID, limit int) ([]models.PriceRecord, error) {
	if _, err := s.repo.FindProduct(ctx, productID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	records, err := s.repo.History(ctx, productID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying price history")
	}
	return records, nil
}

// SetPrice appends a new interval. Any open interval that started earlier is
// closed at the new ValidFrom, so at most one open record exists per product
// and history never loses the superseded price.
func (s *service) SetPrice(ctx context.Context, productID uuid.UUID, input SetPriceInput) (*models.PriceRecord, error) {
	if input.Price.Sign() <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}
	if input.ValidFrom.IsZero() {
		input.ValidFrom = time.Now()
	}
	if input.ValidTo != nil && !input.ValidTo.After(input.ValidFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid_to must be after valid_from")
	}

	var created *models.PriceRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := repo.FindProduct(ctx, productID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
		}

		open, err := repo.FindOpen(ctx, productID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying open price records")
		}
		for _, record := range open {
			if !record.ValidFrom.Before(input.ValidFrom) {
				return pkgerrors.New(pkgerrors.CodeConflict, "an open price record starts at or after the new valid_from")
			}
			if err := repo.CloseRecord(ctx, record.ID, input.ValidFrom); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing price record")
			}
		}

		record := &models.PriceRecord{
			ProductID: productID,
			Price:     input.Price,
			Currency:  input.Currency,
			ValidFrom: input.ValidFrom,
			ValidTo:   input.ValidTo,
		}
		if err := repo.Insert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting price record")
		}
		created = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
