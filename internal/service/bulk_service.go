package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/lifecycle"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

const defaultBulkConcurrency = 8

// BulkMetrics receives per-batch failure counts.
type BulkMetrics interface {
	RecordBulkFailures(n int)
}

// BulkService applies one change to many tickets, each in its own transaction.
type BulkService struct {
	store     repository.Store
	policies  PolicyProvider
	clock     Clock
	vendorDay time.Weekday
	metrics   BulkMetrics
	logger    *zap.Logger
	pool      *ants.Pool
}

// BulkDependencies bundles collaborators.
type BulkDependencies struct {
	Store          repository.Store
	Policies       PolicyProvider
	Clock          Clock
	VendorVisitDay time.Weekday
	Metrics        BulkMetrics
	Logger         *zap.Logger
	Concurrency    int
}

// BulkResult reports a batch outcome. FailedIDs keep request order.
type BulkResult struct {
	UpdatedCount int
	FailedIDs    []string
}

// NewBulkService creates the service and its worker pool.
func NewBulkService(deps BulkDependencies) (*BulkService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := deps.Concurrency
	if size <= 0 {
		size = defaultBulkConcurrency
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("bulk worker panic recovered", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &BulkService{
		store:     deps.Store,
		policies:  deps.Policies,
		clock:     deps.Clock,
		vendorDay: deps.VendorVisitDay,
		metrics:   deps.Metrics,
		logger:    logger,
		pool:      pool,
	}, nil
}

// Close releases the worker pool.
func (s *BulkService) Close() {
	s.pool.Release()
}

type bulkItem struct {
	id      string
	updated bool
	failed  bool
}

// BulkUpdate applies input to every distinct id. A ticket that cannot take the
// change is recorded in FailedIDs and the batch continues. Unchanged tickets
// count as neither updated nor failed.
func (s *BulkService) BulkUpdate(ctx context.Context, ticketIDs []string, input TicketUpdateInput, actorID string) (*BulkResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	changes := input.changes()
	if changes.IsEmpty() {
		return nil, apperrors.NewValidationError("no changes requested", nil)
	}
	items := distinctItems(ticketIDs)
	if len(items) == 0 {
		return nil, apperrors.NewValidationError("ticket ids are required", nil)
	}
	actor, err := loadStaffActor(ctx, s.store.Users(), actorID)
	if err != nil {
		return nil, err
	}
	if input.AssigneeID != nil && *input.AssigneeID != "" {
		if err := checkAssignee(ctx, s.store.Users(), *input.AssigneeID); err != nil {
			return nil, err
		}
	}
	table, err := loadPolicies(ctx, s.policies)
	if err != nil {
		return nil, err
	}

	m := mutation{actor: actor, now: s.clock.now(), policies: table, vendorDay: s.vendorDay}

	var wg sync.WaitGroup
	for i := range items {
		item := &items[i]
		item.failed = true
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			updated, err := s.updateOne(ctx, m, item.id, changes)
			if err != nil {
				s.logger.Info("bulk item failed", zap.String("ticket_id", item.id), zap.Error(err))
				return
			}
			item.failed = false
			item.updated = updated
		})
		if submitErr != nil {
			wg.Done()
			s.logger.Error("bulk submit failed", zap.String("ticket_id", item.id), zap.Error(submitErr))
		}
	}
	wg.Wait()

	result := &BulkResult{FailedIDs: []string{}}
	var refreshed []string
	for _, item := range items {
		switch {
		case item.failed:
			result.FailedIDs = append(result.FailedIDs, item.id)
		case item.updated:
			result.UpdatedCount++
			refreshed = append(refreshed, item.id)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordBulkFailures(len(result.FailedIDs))
	}

	if len(refreshed) > 0 {
		err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
			return enqueue(ctx, tx, events.New(events.EventTicketsRefreshed, "", m.eventActor(), m.now,
				events.TicketsRefreshedPayload{TicketIDs: refreshed}))
		})
		if err != nil {
			s.logger.Error("bulk refresh signal failed", zap.Error(err))
		}
	}
	return result, nil
}

func (s *BulkService) updateOne(ctx context.Context, m mutation, ticketID string, changes lifecycle.Changes) (bool, error) {
	updated := false
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := loadTicket(ctx, tx.Tickets(), ticketID)
		if err != nil {
			return err
		}
		out, err := lifecycle.Apply(*current, changes, m.policies, m.now)
		if err != nil {
			return err
		}
		if _, err := persistOutcome(ctx, tx, m, out); err != nil {
			return err
		}
		updated = out.Changed()
		return nil
	})
	return updated, err
}

func distinctItems(ids []string) []bulkItem {
	seen := make(map[string]struct{}, len(ids))
	items := make([]bulkItem, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, bulkItem{id: id})
	}
	return items
}
