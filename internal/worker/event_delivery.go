package worker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/events"
)

// EventDeliveryWorker hands outbox jobs to the in-process dispatcher.
type EventDeliveryWorker struct {
	river.WorkerDefaults[events.EventJobArgs]
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewEventDeliveryWorker creates the worker.
func NewEventDeliveryWorker(dispatcher events.Dispatcher, logger *zap.Logger) *EventDeliveryWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventDeliveryWorker{dispatcher: dispatcher, logger: logger}
}

// Work publishes the event. A returned error makes River retry the job.
func (w *EventDeliveryWorker) Work(ctx context.Context, job *river.Job[events.EventJobArgs]) error {
	if w == nil || w.dispatcher == nil {
		return fmt.Errorf("event delivery worker is not initialized")
	}
	ev := job.Args.Event
	if err := w.dispatcher.Publish(ctx, ev); err != nil {
		w.logger.Warn("event delivery failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		return err
	}
	return nil
}

// NewRiverClient builds the outbox client with the delivery worker registered.
func NewRiverClient(pool *pgxpool.Pool, dispatcher events.Dispatcher, logger *zap.Logger, maxWorkers int) (*river.Client[pgx.Tx], error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, NewEventDeliveryWorker(dispatcher, logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	logger.Info("river client initialized", zap.Int("max_workers", maxWorkers))
	return client, nil
}
