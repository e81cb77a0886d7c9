package returns

import (
	"context"
	"errors"
	"fmt"

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

type orderLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// RequestInput carries a return request.
type RequestInput struct {
	Reason         string
	ReasonCategory enums.ReturnReasonCategory
}

// Bucket is one side of the try-on metrics split. AvgOrderValue is the mean
// total of the returned orders in the bucket.
type Bucket struct {
	DeliveredOrders int64           `json:"deliveredOrders"`
	Returns         int64           `json:"returns"`
	ReturnRate      decimal.Decimal `json:"returnRate"`
	AvgOrderValue   decimal.Decimal `json:"avgOrderValue"`
}

// Metrics compares return behaviour between orders previewed in the 3D
// fitting room and those that were not.
type Metrics struct {
	TriedOn    Bucket `json:"triedOn"`
	NotTriedOn Bucket `json:"notTriedOn"`
}

// Service manages post-delivery returns.
type Service interface {
	RequestReturn(ctx context.Context, userID, orderID uuid.UUID, input RequestInput) (*models.Return, error)
	GetReturn(ctx context.Context, userID, returnID uuid.UUID) (*models.Return, error)
	ListByOrder(ctx context.Context, userID, orderID uuid.UUID) ([]models.Return, error)
	ComputeMetrics(ctx context.Context) (*Metrics, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	orders orderLoader
}

// NewService builds the returns service.
func NewService(tx txRunner, repo Repository, orders orderLoader) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order loader required")
	}
	return &service{tx: tx, repo: repo, orders: orders}, nil
}

// RequestReturn opens a return for a delivered, owned order. The try-on flag
// is copied from the order's frozen lines so the metrics split stays stable
// even if the cart history is purged.
func (s *service) RequestReturn(ctx context.Context, userID, orderID uuid.UUID, input RequestInput) (*models.Return, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason required")
	}
	if input.ReasonCategory == "" {
		input.ReasonCategory = enums.ReturnReasonOther
	}
	if !input.ReasonCategory.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reason category")
	}

	var created *models.Return
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := s.loadOwnedOrder(ctx, userID, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered orders can be returned")
		}

		open, err := repo.HasOpenReturn(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking existing returns")
		}
		if open {
			return pkgerrors.New(pkgerrors.CodeConflict, "a return is already open for this order")
		}

		triedOn := false
		for _, item := range order.Items {
			if item.TriedOn3D {
				triedOn = true
				break
			}
		}

		ret := &models.Return{
			OrderID:        orderID,
			Reason:         input.Reason,
			ReasonCategory: input.ReasonCategory,
			TriedOn3D:      triedOn,
			Status:         enums.ReturnStatusPending,
		}
		if err := repo.Create(ctx, ret); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating return")
		}
		created = ret
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) GetReturn(ctx context.Context, userID, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.repo.FindByID(ctx, returnID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading return")
	}
	if _, err := s.loadOwnedOrder(ctx, userID, ret.OrderID); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *service) ListByOrder(ctx context.Context, userID, orderID uuid.UUID) ([]models.Return, error) {
	if _, err := s.loadOwnedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing returns")
	}
	return rows, nil
}

// ComputeMetrics builds the try-on/no-try-on comparison over all delivered
// orders.
func (s *service) ComputeMetrics(ctx context.Context) (*Metrics, error) {
	result := &Metrics{}
	for _, triedOn := range []bool{true, false} {
		delivered, err := s.repo.CountDeliveredOrders(ctx, triedOn)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting delivered orders")
		}
		returned, err := s.repo.CountReturns(ctx, triedOn)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting returns")
		}
		avgValue, err := s.repo.AvgReturnedOrderValue(ctx, triedOn)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "averaging returned order value")
		}
		bucket := Bucket{
			DeliveredOrders: delivered,
			Returns:         returned,
			ReturnRate:      decimal.Zero,
			AvgOrderValue:   avgValue,
		}
		if delivered > 0 {
			bucket.ReturnRate = decimal.NewFromInt(returned).
				Div(decimal.NewFromInt(delivered)).
				Round(4)
		}
		if triedOn {
			result.TriedOn = bucket
		} else {
			result.NotTriedOn = bucket
		}
	}
	return result, nil
}

func (s *service) loadOwnedOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
	}
	return order, nil
}
