package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type variantChecker interface {
	GetVariant(ctx context.Context, variantID uuid.UUID) (*models.Variant, error)
}

// Page is one page of a user's notifications.
type Page struct {
	Notifications []models.Notification
	NextCursor    string
}

// Service manages in-app notifications and restock subscriptions.
type Service interface {
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	SubscribeRestock(ctx context.Context, userID, variantID uuid.UUID) error
	FanOutRestock(ctx context.Context, variantID uuid.UUID) (int, error)
	NotifyOrderStatus(ctx context.Context, userID, orderID uuid.UUID) error
}

type service struct {
	tx       txRunner
	repo     Repository
	variants variantChecker
}

// NewService builds the notifications service.
func NewService(tx txRunner, repo Repository, variants variantChecker) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if variants == nil {
		return nil, fmt.Errorf("variant checker required")
	}
	return &service{tx: tx, repo: repo, variants: variants}, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing notifications")
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
	page.Notifications = rows
	return page, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	row, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading notification")
	}
	if row.UserID != userID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	if row.ReadAt != nil {
		return nil
	}
	if err := s.repo.MarkRead(ctx, notificationID, time.Now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking notification read")
	}
	return nil
}

// MarkAllRead clears the user's unread backlog and reports how many rows
// it touched.
func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, userID, time.Now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking notifications read")
	}
	return updated, nil
}

// SubscribeRestock registers interest in a sold-out variant. Subscribing
// twice is a no-op.
func (s *service) SubscribeRestock(ctx context.Context, userID, variantID uuid.UUID) error {
	variant, err := s.variants.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	if variant.Stock > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "variant is in stock")
	}

	exists, err := s.repo.HasSubscription(ctx, userID, variantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking subscription")
	}
	if exists {
		return nil
	}

	sub := &models.RestockSubscription{UserID: userID, VariantID: variantID}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		if db.IsUniqueViolation(err, "ux_restock_subs_user_variant") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating subscription")
	}
	return nil
}

// FanOutRestock creates one notification per subscriber and burns the
// subscriptions, all in one transaction. Called by the outbox consumer, so
// it only ever runs for restocks that committed.
func (s *service) FanOutRestock(ctx context.Context, variantID uuid.UUID) (int, error) {
	notified := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subs, err := repo.SubscriptionsByVariant(ctx, variantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscriptions")
		}
		for _, sub := range subs {
			notification := &models.Notification{
				UserID:      sub.UserID,
				Type:        enums.NotificationRestock,
				ReferenceID: &sub.VariantID,
			}
			if err := repo.Create(ctx, notification); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating notification")
			}
			if err := repo.DeleteSubscription(ctx, sub.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting subscription")
			}
			notified++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return notified, nil
}

// NotifyOrderStatus records an order status change notification.
func (s *service) NotifyOrderStatus(ctx context.Context, userID, orderID uuid.UUID) error {
	notification := &models.Notification{
		UserID:      userID,
		Type:        enums.NotificationOrderStatus,
		ReferenceID: &orderID,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating notification")
	}
	return nil
}
