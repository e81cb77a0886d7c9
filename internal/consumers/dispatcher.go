package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/modaluna/modaluna-backend/pkg/config"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/metrics"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 500
	defaultMaxAttempts = 10
	maxBackoff         = 10 * time.Second
)

// Handler consumes one outbox event. Handlers must be idempotent: a crash
// between handling and marking published replays the event.
type Handler interface {
	Handle(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error

func (f HandlerFunc) Handle(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
	return f(ctx, event, envelope)
}

type outboxRepository interface {
	FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

// Dispatcher drains the outbox table and fans events out to in-process
// handlers. Events with no registered handler are acked so a new event type
// never wedges the queue.
type Dispatcher struct {
	repo         outboxRepository
	handlers     map[enums.OutboxEventType][]Handler
	logg         *logger.Logger
	metrics      *metrics.CommerceMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

// NewDispatcher builds a dispatcher from the outbox config section.
func NewDispatcher(cfg *config.Config, repo outboxRepository, logg *logger.Logger, m *metrics.CommerceMetrics) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	batch := cfg.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Dispatcher{
		repo:         repo,
		handlers:     map[enums.OutboxEventType][]Handler{},
		logg:         logg,
		metrics:      m,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

// Register adds a handler for an event type. Multiple handlers per type run
// in registration order.
func (d *Dispatcher) Register(eventType enums.OutboxEventType, handler Handler) {
	if handler == nil {
		return
	}
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := d.pollInterval
	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "outbox dispatcher stopping")
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "outbox batch error", err)
			backoff = nextBackoff(backoff, d.pollInterval, maxBackoff)
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		backoff = d.pollInterval
		if processed > 0 {
			continue
		}
		if err := d.sleep(ctx, d.pollInterval); err != nil {
			return err
		}
	}
}

// ProcessBatch drains at most one batch and reports how many events it
// settled. Handler failures mark the event failed and move on; only fetch
// errors abort the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	events, err := d.repo.FetchUnpublished(d.batchSize, d.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished: %w", err)
	}

	processed := 0
	for _, event := range events {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"outbox_id":      event.ID.String(),
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID.String(),
			"attempt_count":  event.AttemptCount,
			"aggregate_type": event.AggregateType,
		})

		if err := d.dispatch(ctx, event); err != nil {
			d.logg.Error(logCtx, "outbox event handling failed", err)
			d.metrics.IncOutboxEvent("failed")
			if markErr := d.repo.MarkFailed(event.ID, err); markErr != nil {
				return processed, fmt.Errorf("mark failed %s: %w", event.ID, markErr)
			}
			continue
		}

		if markErr := d.repo.MarkPublished(event.ID); markErr != nil {
			return processed, fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		d.metrics.IncOutboxEvent("published")
		d.logg.Info(logCtx, "outbox event dispatched")
		processed++
	}
	return processed, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event models.OutboxEvent) error {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	handlers := d.handlers[event.EventType]
	if len(handlers) == 0 {
		return nil
	}

	var errs error
	for _, handler := range handlers {
		if err := handler.Handle(ctx, event, envelope); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}
