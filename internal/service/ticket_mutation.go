package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/lifecycle"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

// PolicyProvider yields the current SLA policy table.
type PolicyProvider interface {
	Table(ctx context.Context) (lifecycle.PolicyTable, error)
}

// Clock returns the current time. Services never read the wall clock directly.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// TicketUpdateInput is a requested change to status, priority or assignee.
// An empty AssigneeID clears the assignee.
type TicketUpdateInput struct {
	Status     *domain.TicketStatus
	Priority   *domain.TicketPriority
	AssigneeID *string
}

func (in TicketUpdateInput) changes() lifecycle.Changes {
	return lifecycle.Changes{Status: in.Status, Priority: in.Priority, AssigneeID: in.AssigneeID}
}

func (in TicketUpdateInput) validate() error {
	if in.Status != nil && !in.Status.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": *in.Status})
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": *in.Priority})
	}
	return nil
}

// mutation carries what one write needs besides the ticket itself.
type mutation struct {
	actor     *domain.User
	now       time.Time
	policies  lifecycle.PolicyTable
	vendorDay time.Weekday
	// emitUpdated controls the per-ticket TicketUpdated event; bulk runs
	// replace it with one list-level signal.
	emitUpdated bool
}

func (m mutation) eventActor() events.Actor {
	return events.Actor{UserID: m.actor.ID, Role: m.actor.Role}
}

// persistOutcome saves a computed transition inside tx together with its audit
// message and events. Unchanged outcomes write nothing.
func persistOutcome(ctx context.Context, tx repository.Tx, m mutation, out lifecycle.Outcome, notes ...string) (*domain.Ticket, error) {
	ticket := out.Ticket
	if !out.Changed() && len(notes) == 0 {
		return &ticket, nil
	}
	if err := tx.Tickets().Update(ctx, &ticket); err != nil {
		return nil, mapWriteError(err, ticket.ID)
	}

	lines := append(append([]string{}, out.Log...), notes...)
	if out.StatusChanged && ticket.Status == domain.TicketStatusResolved && out.ResumedFromVendor() {
		lines = append(lines, lifecycle.VendorVisitNote(*ticket.ResolvedAt, m.vendorDay))
	}
	if err := addSystemMessage(ctx, tx, ticket.ID, m.actor.ID, strings.Join(lines, "\n")); err != nil {
		return nil, err
	}

	if m.emitUpdated && out.Changed() {
		if err := enqueue(ctx, tx, events.New(events.EventTicketUpdated, ticket.ID, m.eventActor(), m.now,
			events.TicketUpdatedPayload{Changes: out.Log})); err != nil {
			return nil, err
		}
	}
	if out.StatusChanged && ticket.Status == domain.TicketStatusResolved {
		if err := enqueue(ctx, tx, events.New(events.EventSurveyRequested, ticket.ID, m.eventActor(), m.now,
			events.SurveyRequestedPayload{RequesterID: ticket.RequesterID})); err != nil {
			return nil, err
		}
	}
	return &ticket, nil
}

func addSystemMessage(ctx context.Context, tx repository.Tx, ticketID, actorID, body string) error {
	msg := &domain.TicketMessage{
		TicketID:        ticketID,
		AuthorType:      domain.AuthorTypeSystem,
		Body:            body,
		IsSystemMessage: true,
	}
	if actorID != "" {
		id := actorID
		msg.AuthorID = &id
	}
	if err := tx.Messages().Create(ctx, msg); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

func enqueue(ctx context.Context, tx repository.Tx, event events.Event) error {
	if err := tx.Outbox().Enqueue(ctx, event); err != nil {
		return apperrors.NewInternalError(fmt.Errorf("enqueue %s: %w", event.Type, err))
	}
	return nil
}

func loadActor(ctx context.Context, users repository.UserRepository, actorID string) (*domain.User, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	user, err := users.GetByID(ctx, actorID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": actorID})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

func loadStaffActor(ctx context.Context, users repository.UserRepository, actorID string) (*domain.User, error) {
	actor, err := loadActor(ctx, users, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	return actor, nil
}

// checkAssignee resolves assigneeID and requires a working capability.
func checkAssignee(ctx context.Context, users repository.UserRepository, assigneeID string) error {
	assignee, err := users.GetByID(ctx, assigneeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return apperrors.NewNotFound("assignee", map[string]any{"assignee_id": assigneeID})
		}
		return apperrors.MapError(err)
	}
	if !assignee.Role.IsStaff() || !assignee.Active {
		return apperrors.NewInvalidAssignee("assignee cannot work tickets", map[string]any{
			"assignee_id": assigneeID,
			"role":        assignee.Role,
		})
	}
	return nil
}

func loadTicket(ctx context.Context, tickets repository.TicketRepository, ticketID string) (*domain.Ticket, error) {
	ticket, err := tickets.GetByID(ctx, ticketID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func mapWriteError(err error, ticketID string) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict("ticket was modified concurrently", map[string]any{"ticket_id": ticketID})
	case repository.IsNotFound(err):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	default:
		return apperrors.MapError(err)
	}
}

func loadPolicies(ctx context.Context, provider PolicyProvider) (lifecycle.PolicyTable, error) {
	table, err := provider.Table(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return table, nil
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "..."
}
