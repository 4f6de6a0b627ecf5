package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/lifecycle"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

// AssignmentService handles ticket assignment operations.
type AssignmentService struct {
	store     repository.Store
	policies  PolicyProvider
	clock     Clock
	vendorDay time.Weekday
	logger    *zap.Logger
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	Store          repository.Store
	Policies       PolicyProvider
	Clock          Clock
	VendorVisitDay time.Weekday
	Logger         *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		store:     deps.Store,
		policies:  deps.Policies,
		clock:     deps.Clock,
		vendorDay: deps.VendorVisitDay,
		logger:    logger,
	}
}

// AssignTicket hands the ticket to assigneeID, who must be an active agent or
// admin. SLA clocks are left untouched.
func (s *AssignmentService) AssignTicket(ctx context.Context, ticketID, assigneeID, actorID string) (*domain.Ticket, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, apperrors.NewValidationError("assignee is required", nil)
	}
	actor, err := loadStaffActor(ctx, s.store.Users(), actorID)
	if err != nil {
		return nil, err
	}
	if err := checkAssignee(ctx, s.store.Users(), assigneeID); err != nil {
		return nil, err
	}
	table, err := loadPolicies(ctx, s.policies)
	if err != nil {
		return nil, err
	}

	m := mutation{actor: actor, now: s.clock.now(), policies: table, vendorDay: s.vendorDay}
	var result *domain.Ticket
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := loadTicket(ctx, tx.Tickets(), ticketID)
		if err != nil {
			return err
		}
		out, err := lifecycle.Apply(*current, lifecycle.Changes{AssigneeID: &assigneeID}, m.policies, m.now)
		if err != nil {
			return err
		}
		result, err = persistOutcome(ctx, tx, m, out)
		if err != nil || !out.AssigneeChanged {
			return err
		}
		return enqueue(ctx, tx, events.New(events.EventTicketAssigned, result.ID, m.eventActor(), m.now,
			events.TicketAssignedPayload{AssigneeID: assigneeID}))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("ticket assigned", zap.String("ticket_id", ticketID), zap.String("assignee_id", assigneeID))
	return result, nil
}
