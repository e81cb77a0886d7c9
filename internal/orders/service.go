package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
	"github.com/modaluna/modaluna-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockRestorer interface {
	Restore(ctx context.Context, tx *gorm.DB, lines []stock.ReservationLine) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Page is one page of a user's order history.
type Page struct {
	Orders     []models.Order
	NextCursor string
}

// Service reads orders and drives their status transitions.
type Service interface {
	Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus) error
}

type service struct {
	tx     txRunner
	repo   Repository
	stock  stockRestorer
	outbox outboxPublisher
}

// NewService builds the orders service.
func NewService(tx txRunner, repo Repository, restorer stockRestorer, publisher outboxPublisher) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if restorer == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{tx: tx, repo: repo, stock: restorer, outbox: publisher}, nil
}

func (s *service) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
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

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}

	page := &Page{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	page.Orders = rows
	return page, nil
}

// Cancel moves an owned order to cancelled and puts its stock back. The
// status flip, the stock restore and the emitted event share one transaction.
func (s *service) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if order.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
		}
		if !CanTransition(order.Status, enums.OrderStatusCancelled) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order cannot be cancelled from status %s", order.Status))
		}

		ok, err := repo.UpdateStatus(ctx, order.ID, order.Status, enums.OrderStatusCancelled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		lines := make([]stock.ReservationLine, len(order.Items))
		for i, item := range order.Items {
			lines[i] = stock.ReservationLine{VariantID: item.VariantID, Qty: item.Quantity}
		}
		if err := s.stock.Restore(ctx, tx, lines); err != nil {
			return err
		}

		if err := s.emitStatusChanged(ctx, tx, order, enums.OrderStatusCancelled); err != nil {
			return err
		}

		order.Status = enums.OrderStatusCancelled
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transition applies a state machine edge in its own transaction.
func (s *service) Transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if err := s.TransitionTx(ctx, tx, order, to); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionTx applies a state machine edge inside the caller's transaction
// and mutates the passed order on success.
func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order.Status == to {
		return nil
	}
	if !CanTransition(order.Status, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transition %s -> %s not allowed", order.Status, to))
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.UpdateStatus(ctx, order.ID, order.Status, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
	}

	if err := s.emitStatusChanged(ctx, tx, order, to); err != nil {
		return err
	}
	order.Status = to
	return nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: outbox.OrderStatusChangedData{
			OrderID:    order.ID,
			UserID:     order.UserID,
			FromStatus: order.Status,
			ToStatus:   to,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting status event")
	}
	return nil
}
