// Package scanner flags tickets whose SLA clocks expired unnoticed.
//
// A run is a plain function of the supplied time and the store. Both breach
// flags are write-once and raised with conditional updates, so a ticket is
// flagged, and its breach event enqueued, by exactly one run.
package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
)

// Breach kinds reported to Metrics.
const (
	KindResolution    = "resolution"
	KindFirstResponse = "first_response"
)

var (
	resolutionStatuses    = []domain.TicketStatus{domain.TicketStatusTodo, domain.TicketStatusInProgress}
	firstResponseExcluded = []domain.TicketStatus{domain.TicketStatusWaitingVendor, domain.TicketStatusResolved, domain.TicketStatusCancelled}
)

// Metrics receives scan observations.
type Metrics interface {
	RecordBreach(kind string)
	ObserveScan(d time.Duration)
}

// Dependencies bundles scanner collaborators.
type Dependencies struct {
	Store   repository.Store
	Logger  *zap.Logger
	Metrics Metrics
}

// Scanner runs the two breach passes.
type Scanner struct {
	store   repository.Store
	logger  *zap.Logger
	metrics Metrics
}

// Report summarizes one run.
type Report struct {
	ResolutionBreached    []string
	FirstResponseBreached []string
	Failed                int
}

// New builds a scanner.
func New(deps Dependencies) *Scanner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{store: deps.Store, logger: logger, metrics: deps.Metrics}
}

// Run performs both passes at now. A failure on one ticket is logged and the
// run moves on; a failed candidate query aborts the run.
func (s *Scanner) Run(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	var report Report
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveScan(time.Since(start))
		}
	}()

	overdue, err := s.store.Tickets().ListResolutionCandidates(ctx, resolutionStatuses, now)
	if err != nil {
		return report, fmt.Errorf("list resolution candidates: %w", err)
	}
	for _, ticket := range overdue {
		flipped, err := s.flag(ctx, ticket, now, KindResolution)
		if err != nil {
			report.Failed++
			s.logger.Error("flag resolution breach failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if flipped {
			report.ResolutionBreached = append(report.ResolutionBreached, ticket.ID)
		}
	}

	unanswered, err := s.store.Tickets().ListFirstResponseCandidates(ctx, firstResponseExcluded, now)
	if err != nil {
		return report, fmt.Errorf("list first response candidates: %w", err)
	}
	for _, ticket := range unanswered {
		flipped, err := s.flag(ctx, ticket, now, KindFirstResponse)
		if err != nil {
			report.Failed++
			s.logger.Error("flag first response breach failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if flipped {
			report.FirstResponseBreached = append(report.FirstResponseBreached, ticket.ID)
		}
	}

	s.logger.Info("sla scan completed",
		zap.Time("now", now),
		zap.Int("resolution_breaches", len(report.ResolutionBreached)),
		zap.Int("first_response_breaches", len(report.FirstResponseBreached)),
		zap.Int("failed", report.Failed))
	return report, nil
}

// flag re-checks the candidate inside one transaction, raises the flag and
// enqueues the breach event only when this call raised it.
func (s *Scanner) flag(ctx context.Context, candidate domain.Ticket, now time.Time, kind string) (bool, error) {
	flipped := false
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Tickets().GetByID(ctx, candidate.ID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}

		var deadline time.Time
		eventType := events.EventResolutionBreached
		switch kind {
		case KindResolution:
			if !resolutionDue(*current, now) {
				return nil
			}
			deadline = *current.SLATarget
			flipped, err = tx.Tickets().MarkOverdue(ctx, current.ID)
		default:
			if !firstResponseDue(*current, now) {
				return nil
			}
			deadline = *current.FirstResponseTarget
			eventType = events.EventFirstResponseBreached
			flipped, err = tx.Tickets().MarkFirstResponseBreached(ctx, current.ID)
		}
		if err != nil || !flipped {
			return err
		}
		return tx.Outbox().Enqueue(ctx, events.New(eventType, current.ID, events.Actor{}, now, events.BreachPayload{
			TicketNumber: current.Number,
			Deadline:     deadline,
			DetectedAt:   now,
		}))
	})
	if err != nil {
		return false, err
	}
	if flipped {
		if s.metrics != nil {
			s.metrics.RecordBreach(kind)
		}
		s.logger.Warn("sla breach detected",
			zap.String("kind", kind),
			zap.String("ticket_id", candidate.ID),
			zap.Int64("ticket_number", candidate.Number))
	}
	return flipped, nil
}

func resolutionDue(t domain.Ticket, now time.Time) bool {
	if t.IsOverdue || t.SLAStartedAt == nil || t.SLATarget == nil {
		return false
	}
	if t.Status != domain.TicketStatusTodo && t.Status != domain.TicketStatusInProgress {
		return false
	}
	return now.After(*t.SLATarget)
}

func firstResponseDue(t domain.Ticket, now time.Time) bool {
	if t.IsFirstResponseBreached || t.FirstResponseAt != nil || t.FirstResponseTarget == nil {
		return false
	}
	if t.Status.Terminal() || t.Status == domain.TicketStatusWaitingVendor {
		return false
	}
	return now.After(*t.FirstResponseTarget)
}
