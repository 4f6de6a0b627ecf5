package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
)

// Monday.
var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	store    *repository.MemoryStore
	recorder *events.Recorder
	policies *PolicyService
	tickets  *TicketService
	assign   *AssignmentService
	merge    *MergeService
	bulk     *BulkService

	requester *domain.User
	other     *domain.User
	agent     *domain.User
	agent2    *domain.User
	admin     *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{t: t, ctx: context.Background(), now: base}
	fx.recorder = events.NewRecorder(nil)
	fx.store = repository.NewMemoryStore(fx.recorder, repository.WithMemoryClock(fx.clock))
	fx.policies = NewPolicyService(PolicyDependencies{
		PolicyRepo: fx.store.Policies(),
		UserRepo:   fx.store.Users(),
	})
	require.NoError(t, fx.policies.EnsureSeeded(fx.ctx))

	fx.tickets = NewTicketService(TicketDependencies{
		Store: fx.store, Policies: fx.policies, Clock: fx.clock, VendorVisitDay: time.Thursday,
	})
	fx.assign = NewAssignmentService(AssignmentDependencies{
		Store: fx.store, Policies: fx.policies, Clock: fx.clock, VendorVisitDay: time.Thursday,
	})
	fx.merge = NewMergeService(MergeDependencies{
		Store: fx.store, Policies: fx.policies, Clock: fx.clock, VendorVisitDay: time.Thursday,
	})
	bulk, err := NewBulkService(BulkDependencies{
		Store: fx.store, Policies: fx.policies, Clock: fx.clock, VendorVisitDay: time.Thursday, Concurrency: 4,
	})
	require.NoError(t, err)
	t.Cleanup(bulk.Close)
	fx.bulk = bulk

	fx.requester = fx.user("Rita Requester", domain.RoleRequester, true)
	fx.other = fx.user("Otto Other", domain.RoleRequester, true)
	fx.agent = fx.user("Alex Agent", domain.RoleAgent, true)
	fx.agent2 = fx.user("Bo Agent", domain.RoleAgent, true)
	fx.admin = fx.user("Ada Admin", domain.RoleAdmin, true)
	return fx
}

func (fx *fixture) clock() time.Time { return fx.now }

func (fx *fixture) advance(d time.Duration) { fx.now = fx.now.Add(d) }

func (fx *fixture) user(name string, role domain.Role, active bool) *domain.User {
	u := &domain.User{Name: name, Email: name + "@example.com", Role: role, Active: active}
	require.NoError(fx.t, fx.store.Users().Create(fx.ctx, u))
	return u
}

func (fx *fixture) open(priority domain.TicketPriority) *domain.Ticket {
	fx.t.Helper()
	ticket, err := fx.tickets.CreateTicket(fx.ctx, fx.requester.ID, TicketCreateInput{
		Title:    "Printer on fire",
		Body:     "It is on fire.",
		Priority: priority,
	})
	require.NoError(fx.t, err)
	return ticket
}

func (fx *fixture) setStatus(ticketID string, status domain.TicketStatus) *domain.Ticket {
	fx.t.Helper()
	updated, err := fx.tickets.UpdateTicket(fx.ctx, ticketID, fx.agent.ID, TicketUpdateInput{Status: &status})
	require.NoError(fx.t, err)
	return updated
}

func (fx *fixture) reload(ticketID string) *domain.Ticket {
	fx.t.Helper()
	ticket, err := fx.store.Tickets().GetByID(fx.ctx, ticketID)
	require.NoError(fx.t, err)
	return ticket
}

func (fx *fixture) messages(ticketID string) []domain.TicketMessage {
	fx.t.Helper()
	msgs, err := fx.store.Messages().ListByTicket(fx.ctx, ticketID)
	require.NoError(fx.t, err)
	return msgs
}

func (fx *fixture) systemBodies(ticketID string) []string {
	var out []string
	for _, m := range fx.messages(ticketID) {
		if m.IsSystemMessage {
			out = append(out, m.Body)
		}
	}
	return out
}

func statusPtr(s domain.TicketStatus) *domain.TicketStatus       { return &s }
func priorityPtr(p domain.TicketPriority) *domain.TicketPriority { return &p }
func strPtr(s string) *string                                    { return &s }
