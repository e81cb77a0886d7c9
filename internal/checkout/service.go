package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/cart"
	"github.com/modaluna/modaluna-backend/internal/orders"
	"github.com/modaluna/modaluna-backend/internal/pricing"
	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/metrics"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []stock.ReservationLine) error
}

type priceResolver interface {
	ResolveWithTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID, at time.Time) (*pricing.ResolvedPrice, error)
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Input carries the checkout request data. ExternalRef is the fulfillment
// provider's order handle; webhooks correlate on it later.
type Input struct {
	CartID            uuid.UUID
	ShippingAddressID uuid.UUID
	ExternalRef       *string
}

// Service turns an active cart into a pending order. Everything — ownership
// check, stock decrement, price snapshot, order insert, cart conversion and
// the order.created event — happens in one transaction, so a failure at any
// step leaves no trace.
type Service interface {
	InitCheckout(ctx context.Context, userID uuid.UUID, input Input) (*models.Order, error)
}

type service struct {
	tx      txRunner
	repo    Repository
	carts   cart.Repository
	orders  orders.Repository
	stock   stockReserver
	prices  priceResolver
	outbox  outboxPublisher
	metrics *metrics.CommerceMetrics
}

// NewService builds the checkout service. Metrics may be nil.
func NewService(
	tx txRunner,
	repo Repository,
	cartRepo cart.Repository,
	ordersRepo orders.Repository,
	reserver stockReserver,
	prices priceResolver,
	publisher outboxPublisher,
	commerceMetrics *metrics.CommerceMetrics,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if reserver == nil {
		return nil, fmt.Errorf("stock reserver required")
	}
	if prices == nil {
		return nil, fmt.Errorf("price resolver required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		tx:      tx,
		repo:    repo,
		carts:   cartRepo,
		orders:  ordersRepo,
		stock:   reserver,
		prices:  prices,
		outbox:  publisher,
		metrics: commerceMetrics,
	}, nil
}

func (s *service) InitCheckout(ctx context.Context, userID uuid.UUID, input Input) (*models.Order, error) {
	started := time.Now()
	order, err := s.execute(ctx, userID, input)
	s.metrics.ObserveCheckout(outcomeLabel(err), time.Since(started))
	return order, err
}

func (s *service) execute(ctx context.Context, userID uuid.UUID, input Input) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.CartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	}
	if input.ShippingAddressID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.carts.WithTx(tx)
		catalog := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)

		record, err := cartRepo.FindByID(ctx, input.CartID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart")
		}
		if record.UserID == nil || *record.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cart belongs to another user")
		}
		if record.Status != enums.CartStatusActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is not active")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
		}

		variantIDs := make([]uuid.UUID, len(record.Items))
		for i, item := range record.Items {
			variantIDs[i] = item.VariantID
		}
		variants, err := catalog.FindVariants(ctx, variantIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variants")
		}

		productIDs := make([]uuid.UUID, 0, len(variants))
		for _, variant := range variants {
			productIDs = append(productIDs, variant.ProductID)
		}
		products, err := catalog.FindProducts(ctx, productIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading products")
		}

		// snapshot prices at the commit instant, ignoring cart display prices
		now := time.Now()
		total := decimal.Zero
		items := make([]models.OrderItem, len(record.Items))
		lines := make([]stock.ReservationLine, len(record.Items))
		for i, item := range record.Items {
			variant, ok := variants[item.VariantID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "variant no longer exists")
			}
			product, ok := products[variant.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product no longer exists")
			}
			if !product.IsActive {
				return pkgerrors.New(pkgerrors.CodeConflict, "product is no longer for sale").
					WithDetails(map[string]any{"sku": variant.SKU})
			}

			unitPrice := decimal.Decimal{}
			if variant.PriceOverride != nil {
				unitPrice = *variant.PriceOverride
			} else {
				resolved, err := s.prices.ResolveWithTx(ctx, tx, variant.ProductID, now)
				if err != nil {
					return err
				}
				unitPrice = resolved.Price
			}

			items[i] = models.OrderItem{
				VariantID:   item.VariantID,
				ProductName: product.Name,
				Quantity:    item.Quantity,
				UnitPrice:   unitPrice,
				TriedOn3D:   item.TriedOn3D,
			}
			lines[i] = stock.ReservationLine{VariantID: item.VariantID, Qty: item.Quantity}
			total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		if err := s.stock.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		order := &models.Order{
			UserID:            userID,
			Status:            enums.OrderStatusPending,
			TotalAmount:       total,
			Currency:          record.Currency,
			ShippingAddressID: input.ShippingAddressID,
			ExternalRef:       input.ExternalRef,
			Items:             items,
		}
		if err := ordersRepo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
		}

		if err := cartRepo.UpdateStatus(ctx, record.ID, enums.CartStatusConverted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "converting cart")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &userID},
			Data: outbox.OrderCreatedData{
				OrderID:     order.ID,
				UserID:      userID,
				TotalAmount: order.TotalAmount,
				Currency:    order.Currency,
				ItemCount:   len(order.Items),
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting order event")
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeInsufficientStock:
			return "insufficient_stock"
		case pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
			return "rejected"
		}
	}
	return "error"
}
