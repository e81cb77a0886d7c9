package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/orders"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/metrics"
	"github.com/modaluna/modaluna-backend/pkg/redis"
)

const idempotencyScope = "fulfillment"

type orderFinder interface {
	FindByExternalRef(ctx context.Context, ref string) (*models.Order, error)
}

type orderTransitioner interface {
	Transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error)
}

// Event is one fulfillment provider webhook delivery.
type Event struct {
	EventID     string    `json:"event_id" validate:"required"`
	ExternalRef string    `json:"external_ref" validate:"required"`
	Status      string    `json:"status" validate:"required"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Result says how a delivery was handled. Everything except an internal
// error is acknowledged with 200 so the provider stops retrying.
type Result string

const (
	ResultApplied       Result = "applied"
	ResultDuplicate     Result = "duplicate"
	ResultUnknownStatus Result = "unknown_status"
	ResultUnmatched     Result = "unmatched"
	ResultDropped       Result = "dropped"
)

// Service ingests fulfillment provider webhooks. Deliveries are deduplicated
// by event id; redeliveries, unknown statuses, unmatched refs and illegal
// transitions are all acknowledged without side effects.
type Service interface {
	HandleEvent(ctx context.Context, event Event) (Result, error)
}

type service struct {
	finder       orderFinder
	transitioner orderTransitioner
	idempotency  redis.IdempotencyStore
	ttl          time.Duration
	logg         *logger.Logger
	metrics      *metrics.CommerceMetrics
}

// NewService builds the fulfillment webhook service. Metrics may be nil.
func NewService(
	finder orderFinder,
	transitioner orderTransitioner,
	idempotency redis.IdempotencyStore,
	ttl time.Duration,
	logg *logger.Logger,
	commerceMetrics *metrics.CommerceMetrics,
) (Service, error) {
	if finder == nil {
		return nil, fmt.Errorf("order finder required")
	}
	if transitioner == nil {
		return nil, fmt.Errorf("order transitioner required")
	}
	if idempotency == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &service{
		finder:       finder,
		transitioner: transitioner,
		idempotency:  idempotency,
		ttl:          ttl,
		logg:         logg,
		metrics:      commerceMetrics,
	}, nil
}

func (s *service) HandleEvent(ctx context.Context, event Event) (Result, error) {
	result, err := s.process(ctx, event)
	s.metrics.IncWebhookEvent(string(result))
	return result, err
}

func (s *service) process(ctx context.Context, event Event) (Result, error) {
	if event.EventID == "" {
		return ResultDropped, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}

	key := s.idempotency.IdempotencyKey(idempotencyScope, event.EventID)
	fresh, err := s.idempotency.SetNX(ctx, key, event.Status, s.ttl)
	if err != nil {
		return ResultDropped, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check failed")
	}
	if !fresh {
		s.logg.Info(s.logg.WithField(ctx, "event_id", event.EventID), "duplicate webhook delivery ignored")
		return ResultDuplicate, nil
	}

	result, err := s.apply(ctx, event)
	if err != nil {
		// release the guard so the provider's retry can be processed
		if delErr := s.idempotency.Del(ctx, key); delErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "event_id", event.EventID), "failed to release idempotency key")
		}
		return result, err
	}
	return result, nil
}

func (s *service) apply(ctx context.Context, event Event) (Result, error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":     event.EventID,
		"external_ref": event.ExternalRef,
		"status":       event.Status,
	})

	target, known := orders.MapExternalStatus(event.Status)
	if !known {
		s.logg.Info(logCtx, "unknown fulfillment status ignored")
		return ResultUnknownStatus, nil
	}

	order, err := s.finder.FindByExternalRef(ctx, event.ExternalRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(logCtx, "webhook references unknown order")
			return ResultUnmatched, nil
		}
		return ResultDropped, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up order")
	}

	if _, err := s.transitioner.Transition(ctx, order.ID, target); err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			// the provider replayed history out of order; drop it
			s.logg.Warn(logCtx, "illegal transition dropped")
			return ResultDropped, nil
		}
		return ResultDropped, err
	}

	s.logg.Info(logCtx, "fulfillment status applied")
	return ResultApplied, nil
}
