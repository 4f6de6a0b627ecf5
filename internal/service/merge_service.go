package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/lifecycle"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

// MergeService folds secondary tickets into a primary one.
type MergeService struct {
	store     repository.Store
	policies  PolicyProvider
	clock     Clock
	vendorDay time.Weekday
	logger    *zap.Logger
}

// MergeDependencies bundles collaborators.
type MergeDependencies struct {
	Store          repository.Store
	Policies       PolicyProvider
	Clock          Clock
	VendorVisitDay time.Weekday
	Logger         *zap.Logger
}

// NewMergeService creates the service.
func NewMergeService(deps MergeDependencies) *MergeService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeService{
		store:     deps.Store,
		policies:  deps.Policies,
		clock:     deps.Clock,
		vendorDay: deps.VendorVisitDay,
		logger:    logger,
	}
}

type mergePlan struct {
	secondary domain.Ticket
	messages  []domain.TicketMessage
	cancel    lifecycle.Outcome
}

// Merge copies every secondary thread into the primary in input order and
// cancels the secondaries. All preconditions are checked before the first
// write; any violation rejects the whole merge.
func (s *MergeService) Merge(ctx context.Context, primaryID string, secondaryIDs []string, actorID string, reason *string) (*domain.Ticket, error) {
	if len(secondaryIDs) == 0 {
		return nil, apperrors.NewInvalidMerge("at least one secondary ticket is required", nil)
	}
	seen := make(map[string]struct{}, len(secondaryIDs))
	for _, id := range secondaryIDs {
		if id == primaryID {
			return nil, apperrors.NewInvalidMerge("primary ticket cannot be merged into itself", map[string]any{"ticket_id": id})
		}
		if _, dup := seen[id]; dup {
			return nil, apperrors.NewInvalidMerge("secondary ticket listed twice", map[string]any{"ticket_id": id})
		}
		seen[id] = struct{}{}
	}
	if reason != nil && strings.TrimSpace(*reason) == "" {
		reason = nil
	}

	actor, err := loadStaffActor(ctx, s.store.Users(), actorID)
	if err != nil {
		return nil, err
	}
	table, err := loadPolicies(ctx, s.policies)
	if err != nil {
		return nil, err
	}

	m := mutation{actor: actor, now: s.clock.now(), policies: table, vendorDay: s.vendorDay}
	var result *domain.Ticket
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		primary, plans, err := s.validate(ctx, tx, m, primaryID, secondaryIDs)
		if err != nil {
			return err
		}
		result, err = s.write(ctx, tx, m, primary, plans, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tickets merged",
		zap.String("primary_id", primaryID),
		zap.Strings("secondary_ids", secondaryIDs),
		zap.String("actor_id", actorID))
	return result, nil
}

func (s *MergeService) validate(ctx context.Context, tx repository.Tx, m mutation, primaryID string, secondaryIDs []string) (*domain.Ticket, []mergePlan, error) {
	primary, err := loadTicket(ctx, tx.Tickets(), primaryID)
	if err != nil {
		return nil, nil, err
	}
	if primary.Status.Terminal() {
		return nil, nil, apperrors.NewInvalidMerge("primary ticket is closed", map[string]any{
			"ticket_id": primary.ID,
			"status":    primary.Status,
		})
	}

	cancelled := domain.TicketStatusCancelled
	plans := make([]mergePlan, 0, len(secondaryIDs))
	for _, id := range secondaryIDs {
		secondary, err := loadTicket(ctx, tx.Tickets(), id)
		if err != nil {
			return nil, nil, err
		}
		if secondary.Status.Terminal() {
			return nil, nil, apperrors.NewInvalidMerge("secondary ticket is closed", map[string]any{
				"ticket_id": secondary.ID,
				"status":    secondary.Status,
			})
		}
		out, err := lifecycle.Apply(*secondary, lifecycle.Changes{Status: &cancelled}, m.policies, m.now)
		if err != nil {
			return nil, nil, err
		}
		messages, err := tx.Messages().ListByTicket(ctx, secondary.ID)
		if err != nil {
			return nil, nil, apperrors.MapError(err)
		}
		plans = append(plans, mergePlan{secondary: *secondary, messages: messages, cancel: out})
	}
	return primary, plans, nil
}

func (s *MergeService) write(ctx context.Context, tx repository.Tx, m mutation, primary *domain.Ticket, plans []mergePlan, reason *string) (*domain.Ticket, error) {
	secondaryIDs := make([]string, 0, len(plans))
	for _, plan := range plans {
		sec := plan.secondary
		secondaryIDs = append(secondaryIDs, sec.ID)

		marker := fmt.Sprintf("[Merged from #%d]", sec.Number)
		for _, original := range plan.messages {
			sourceID := sec.ID
			copied := domain.TicketMessage{
				TicketID:           primary.ID,
				AuthorType:         original.AuthorType,
				AuthorID:           original.AuthorID,
				Body:               marker + " " + original.Body,
				IsSystemMessage:    original.IsSystemMessage,
				IsInternal:         original.IsInternal,
				MergedFromTicketID: &sourceID,
				CreatedAt:          original.CreatedAt,
			}
			if err := tx.Messages().Create(ctx, &copied); err != nil {
				return nil, apperrors.MapError(err)
			}
		}

		note := fmt.Sprintf("Ticket #%d merged into this ticket", sec.Number)
		if reason != nil {
			note += ": " + *reason
		}
		if err := addSystemMessage(ctx, tx, primary.ID, m.actor.ID, note); err != nil {
			return nil, err
		}

		pointer := fmt.Sprintf("Ticket merged into #%d", primary.Number)
		cancelled, err := persistOutcome(ctx, tx, m, plan.cancel, pointer)
		if err != nil {
			return nil, err
		}
		if err := enqueue(ctx, tx, events.New(events.EventTicketCancelled, cancelled.ID, m.eventActor(), m.now,
			events.TicketCancelledPayload{Reason: &pointer})); err != nil {
			return nil, err
		}
	}

	// The primary is saved unchanged to bump its version.
	updated := primary.Clone()
	if err := tx.Tickets().Update(ctx, &updated); err != nil {
		return nil, mapWriteError(err, primary.ID)
	}
	if err := enqueue(ctx, tx, events.New(events.EventTicketMerged, updated.ID, m.eventActor(), m.now,
		events.TicketMergedPayload{SecondaryIDs: secondaryIDs, Reason: reason})); err != nil {
		return nil, err
	}
	return &updated, nil
}
