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

// TicketService coordinates single-ticket lifecycle workflows.
type TicketService struct {
	store     repository.Store
	policies  PolicyProvider
	clock     Clock
	vendorDay time.Weekday
	logger    *zap.Logger
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	Store          repository.Store
	Policies       PolicyProvider
	Clock          Clock
	VendorVisitDay time.Weekday
	Logger         *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title    string
	Body     string
	Priority domain.TicketPriority
}

// ReplyInput describes a thread reply.
type ReplyInput struct {
	Body     string
	Internal bool
}

// ReplyResult carries the stored message and the ticket after side effects.
type ReplyResult struct {
	Message domain.TicketMessage
	Ticket  domain.Ticket
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		store:     deps.Store,
		policies:  deps.Policies,
		clock:     deps.Clock,
		vendorDay: deps.VendorVisitDay,
		logger:    logger,
	}
}

// CreateTicket opens a ticket for the requester and starts its first-response clock.
func (s *TicketService) CreateTicket(ctx context.Context, requesterID string, input TicketCreateInput) (*domain.Ticket, error) {
	requester, err := loadActor(ctx, s.store.Users(), requesterID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	if !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": input.Priority})
	}

	table, err := loadPolicies(ctx, s.policies)
	if err != nil {
		return nil, err
	}
	policy, err := table.Lookup(input.Priority)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	now := s.clock.now()
	target := now.Add(policy.ResponseBudget())
	ticket := &domain.Ticket{
		RequesterID:         requester.ID,
		Title:               title,
		Status:              domain.TicketStatusTodo,
		Priority:            input.Priority,
		FirstResponseTarget: &target,
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return apperrors.MapError(err)
		}
		if body := strings.TrimSpace(input.Body); body != "" {
			authorID := requester.ID
			if err := tx.Messages().Create(ctx, &domain.TicketMessage{
				TicketID:   ticket.ID,
				AuthorType: authorTypeFor(requester.Role),
				AuthorID:   &authorID,
				Body:       body,
			}); err != nil {
				return apperrors.MapError(err)
			}
		}
		return addSystemMessage(ctx, tx, ticket.ID, requester.ID,
			fmt.Sprintf("First response due by %s", target.UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// GetTicket returns the ticket and its thread. Requesters only see their own
// tickets and never see internal notes.
func (s *TicketService) GetTicket(ctx context.Context, ticketID, actorID string) (*domain.Ticket, []domain.TicketMessage, error) {
	actor, err := loadActor(ctx, s.store.Users(), actorID)
	if err != nil {
		return nil, nil, err
	}
	ticket, err := loadTicket(ctx, s.store.Tickets(), ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.Role.IsStaff() && ticket.RequesterID != actor.ID {
		return nil, nil, apperrors.NewForbidden("access denied")
	}
	messages, err := s.store.Messages().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	if !actor.Role.IsStaff() {
		visible := messages[:0]
		for _, m := range messages {
			if !m.IsInternal {
				visible = append(visible, m)
			}
		}
		messages = visible
	}
	return ticket, messages, nil
}

// UpdateTicket applies a status, priority or assignee change to one ticket.
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID, actorID string, input TicketUpdateInput) (*domain.Ticket, error) {
	if err := input.validate(); err != nil {
		return nil, err
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

	m := mutation{actor: actor, now: s.clock.now(), policies: table, vendorDay: s.vendorDay, emitUpdated: true}
	var result *domain.Ticket
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := loadTicket(ctx, tx.Tickets(), ticketID)
		if err != nil {
			return err
		}
		out, err := lifecycle.Apply(*current, input.changes(), m.policies, m.now)
		if err != nil {
			return err
		}
		result, err = persistOutcome(ctx, tx, m, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("ticket updated", zap.String("ticket_id", ticketID), zap.String("actor_id", actorID))
	return result, nil
}

// CancelTicket moves a ticket to Cancelled. Requesters may cancel only their own tickets.
func (s *TicketService) CancelTicket(ctx context.Context, ticketID, actorID string, reason *string) (*domain.Ticket, error) {
	actor, err := loadActor(ctx, s.store.Users(), actorID)
	if err != nil {
		return nil, err
	}
	table, err := loadPolicies(ctx, s.policies)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}

	m := mutation{actor: actor, now: s.clock.now(), policies: table, vendorDay: s.vendorDay}
	var result *domain.Ticket
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := loadTicket(ctx, tx.Tickets(), ticketID)
		if err != nil {
			return err
		}
		if !actor.Role.IsStaff() && current.RequesterID != actor.ID {
			return apperrors.NewForbidden("cannot cancel another requester's ticket")
		}
		if current.Status.Terminal() {
			return apperrors.NewInvalidState("ticket is already closed", map[string]any{
				"ticket_id": current.ID,
				"status":    current.Status,
			})
		}
		cancelled := domain.TicketStatusCancelled
		out, err := lifecycle.Apply(*current, lifecycle.Changes{Status: &cancelled}, m.policies, m.now)
		if err != nil {
			return err
		}
		var notes []string
		if reason != nil {
			notes = append(notes, "Cancellation reason: "+*reason)
		}
		result, err = persistOutcome(ctx, tx, m, out, notes...)
		if err != nil {
			return err
		}
		return enqueue(ctx, tx, events.New(events.EventTicketCancelled, result.ID, m.eventActor(), m.now,
			events.TicketCancelledPayload{Reason: reason}))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReplyToTicket appends a thread message. The first public staff reply
// records the first response and moves a Todo ticket to InProgress.
func (s *TicketService) ReplyToTicket(ctx context.Context, ticketID, senderID string, input ReplyInput) (*ReplyResult, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body is required", nil)
	}
	sender, err := loadActor(ctx, s.store.Users(), senderID)
	if err != nil {
		return nil, err
	}
	staff := sender.Role.IsStaff()
	if input.Internal && !staff {
		return nil, apperrors.NewForbidden("internal notes are staff only")
	}
	table, err := loadPolicies(ctx, s.policies)
	if err != nil {
		return nil, err
	}

	m := mutation{actor: sender, now: s.clock.now(), policies: table, vendorDay: s.vendorDay, emitUpdated: true}
	var result ReplyResult
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		current, err := loadTicket(ctx, tx.Tickets(), ticketID)
		if err != nil {
			return err
		}
		if !staff && current.RequesterID != sender.ID {
			return apperrors.NewForbidden("cannot reply to another requester's ticket")
		}
		if current.Status.Terminal() {
			return apperrors.NewInvalidState("ticket is closed", map[string]any{
				"ticket_id": current.ID,
				"status":    current.Status,
			})
		}

		authorID := sender.ID
		msg := domain.TicketMessage{
			TicketID:   current.ID,
			AuthorType: authorTypeFor(sender.Role),
			AuthorID:   &authorID,
			Body:       body,
			IsInternal: input.Internal,
		}
		if err := tx.Messages().Create(ctx, &msg); err != nil {
			return apperrors.MapError(err)
		}
		if err := enqueue(ctx, tx, events.New(events.EventTicketMessageAdded, current.ID, m.eventActor(), m.now,
			events.TicketMessageAddedPayload{
				MessageID:   msg.ID,
				AuthorType:  msg.AuthorType,
				AuthorID:    msg.AuthorID,
				IsInternal:  msg.IsInternal,
				BodyPreview: stringPreview(msg.Body, 120),
			})); err != nil {
			return err
		}
		result.Message = msg

		if !staff || input.Internal || current.FirstResponseAt != nil {
			result.Ticket = *current
			return nil
		}

		updated, err := s.recordFirstResponse(ctx, tx, m, *current)
		if err != nil {
			return err
		}
		result.Ticket = *updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *TicketService) recordFirstResponse(ctx context.Context, tx repository.Tx, m mutation, current domain.Ticket) (*domain.Ticket, error) {
	ticket := current.Clone()
	answered := m.now
	ticket.FirstResponseAt = &answered
	notes := []string{fmt.Sprintf("First response recorded at %s", answered.UTC().Format(time.RFC3339))}

	breached := false
	if ticket.FirstResponseTarget != nil && answered.After(*ticket.FirstResponseTarget) && !ticket.IsFirstResponseBreached {
		ticket.IsFirstResponseBreached = true
		breached = true
		notes = append(notes, fmt.Sprintf("First response target %s was missed", ticket.FirstResponseTarget.UTC().Format(time.RFC3339)))
	}

	out := lifecycle.Outcome{Ticket: ticket, PreviousStatus: current.Status}
	if current.Status == domain.TicketStatusTodo {
		inProgress := domain.TicketStatusInProgress
		applied, err := lifecycle.Apply(ticket, lifecycle.Changes{Status: &inProgress}, m.policies, m.now)
		if err != nil {
			return nil, err
		}
		out = applied
	}

	updated, err := persistOutcome(ctx, tx, m, out, notes...)
	if err != nil {
		return nil, err
	}
	if breached {
		if err := enqueue(ctx, tx, events.New(events.EventFirstResponseBreached, updated.ID, m.eventActor(), m.now,
			events.BreachPayload{
				TicketNumber: updated.Number,
				Deadline:     *updated.FirstResponseTarget,
				DetectedAt:   m.now,
			})); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func authorTypeFor(role domain.Role) domain.MessageAuthorType {
	if role.IsStaff() {
		return domain.AuthorTypeStaff
	}
	return domain.AuthorTypeRequester
}
