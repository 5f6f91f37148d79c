package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay moves outbox events to their redis streams.
type Relay struct {
	redis     StreamClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox OutboxRepo, client StreamClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		redis:     client,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil {
			r.logger.Error("failed to process events", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes one batch of due events and returns how many were
// published. A failing event is rescheduled and does not stop the batch.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := r.publish(ctx, event); err != nil {
			r.logger.Error("failed to publish event",
				"event_id", event.ID,
				"aggregate_id", event.AggregateID,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
			}
			continue
		}

		if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
			r.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
			continue
		}

		published++
		r.logger.Debug("event published",
			"event_id", event.ID,
			"event_type", event.EventType,
			"target_stream", event.TargetStream)
	}

	return published, nil
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]interface{}{
			"id":           event.ID.String(),
			"type":         event.EventType,
			"aggregate_id": event.AggregateID,
			"timestamp":    strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
			"retry_count":  strconv.Itoa(event.RetryCount),
			"payload":      string(event.Payload),
		},
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
