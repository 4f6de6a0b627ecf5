package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
)

var storeNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore() (*MemoryStore, *events.Recorder) {
	rec := events.NewRecorder(nil)
	return NewMemoryStore(rec, WithMemoryClock(func() time.Time { return storeNow })), rec
}

func TestMemoryStoreAssignsNumbersAndVersions(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	first := &domain.Ticket{Title: "a", Status: domain.TicketStatusTodo}
	second := &domain.Ticket{Title: "b", Status: domain.TicketStatusTodo}
	require.NoError(t, store.Tickets().Create(ctx, first))
	require.NoError(t, store.Tickets().Create(ctx, second))

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, int64(1001), first.Number)
	assert.Equal(t, int64(1002), second.Number)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, storeNow, first.CreatedAt)

	byNumber, err := store.Tickets().GetByNumber(ctx, 1002)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byNumber.ID)
}

func TestMemoryStoreUpdateDetectsStaleVersion(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	ticket := &domain.Ticket{Title: "a", Status: domain.TicketStatusTodo}
	require.NoError(t, store.Tickets().Create(ctx, ticket))

	copyA, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	copyB, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)

	copyA.Status = domain.TicketStatusInProgress
	require.NoError(t, store.Tickets().Update(ctx, copyA))
	assert.Equal(t, int64(2), copyA.Version)

	copyB.Status = domain.TicketStatusCancelled
	assert.ErrorIs(t, store.Tickets().Update(ctx, copyB), ErrVersionConflict)

	stored, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
}

func TestMemoryStoreNeverLowersBreachFlags(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	ticket := &domain.Ticket{Title: "a", Status: domain.TicketStatusInProgress}
	require.NoError(t, store.Tickets().Create(ctx, ticket))

	flipped, err := store.Tickets().MarkOverdue(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, flipped)
	flipped, err = store.Tickets().MarkOverdue(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	fresh, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	fresh.IsOverdue = false
	require.NoError(t, store.Tickets().Update(ctx, fresh))
	assert.True(t, fresh.IsOverdue)

	missing, err := store.Tickets().MarkFirstResponseBreached(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestWithinTxPublishesOnlyAfterCommit(t *testing.T) {
	store, rec := newTestStore()
	ctx := context.Background()
	ticket := &domain.Ticket{Title: "a", Status: domain.TicketStatusTodo}

	err := store.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.Tickets().Create(ctx, ticket))
		require.NoError(t, tx.Messages().Create(ctx, &domain.TicketMessage{TicketID: ticket.ID, Body: "hi"}))
		require.NoError(t, tx.Outbox().Enqueue(ctx, events.New(events.EventTicketUpdated, ticket.ID, events.Actor{}, storeNow, nil)))

		staged, err := tx.Tickets().GetByID(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, ticket.ID, staged.ID)
		_, err = store.Tickets().GetByID(ctx, ticket.ID)
		assert.True(t, IsNotFound(err))
		assert.Empty(t, rec.Events())
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, rec.Events(), 1)
	msgs, err := store.Messages().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].ID)
	assert.Equal(t, storeNow, msgs[0].CreatedAt)
}

func TestWithinTxRollbackDiscardsEverything(t *testing.T) {
	store, rec := newTestStore()
	ctx := context.Background()
	existing := &domain.Ticket{Title: "a", Status: domain.TicketStatusTodo}
	require.NoError(t, store.Tickets().Create(ctx, existing))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.Tickets().GetByID(ctx, existing.ID)
		require.NoError(t, err)
		current.Status = domain.TicketStatusResolved
		require.NoError(t, tx.Tickets().Update(ctx, current))
		require.NoError(t, tx.Messages().Create(ctx, &domain.TicketMessage{TicketID: existing.ID, Body: "resolved"}))
		require.NoError(t, tx.Outbox().Enqueue(ctx, events.New(events.EventSurveyRequested, existing.ID, events.Actor{}, storeNow, nil)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := store.Tickets().GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusTodo, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	msgs, err := store.Messages().ListByTicket(ctx, existing.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, rec.Events())
}

func TestCandidateQueries(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	past := storeNow.Add(-time.Hour)
	future := storeNow.Add(time.Hour)

	due := &domain.Ticket{Status: domain.TicketStatusInProgress, SLAStartedAt: &past, SLATarget: &past, FirstResponseTarget: &past}
	notDue := &domain.Ticket{Status: domain.TicketStatusInProgress, SLAStartedAt: &past, SLATarget: &future, FirstResponseTarget: &future}
	paused := &domain.Ticket{Status: domain.TicketStatusWaitingVendor, SLAStartedAt: &past, SLATarget: &past, FirstResponseTarget: &past}
	for _, tk := range []*domain.Ticket{due, notDue, paused} {
		require.NoError(t, store.Tickets().Create(ctx, tk))
	}

	resolution, err := store.Tickets().ListResolutionCandidates(ctx,
		[]domain.TicketStatus{domain.TicketStatusTodo, domain.TicketStatusInProgress}, storeNow)
	require.NoError(t, err)
	require.Len(t, resolution, 1)
	assert.Equal(t, due.ID, resolution[0].ID)

	firstResponse, err := store.Tickets().ListFirstResponseCandidates(ctx,
		[]domain.TicketStatus{domain.TicketStatusWaitingVendor, domain.TicketStatusResolved, domain.TicketStatusCancelled}, storeNow)
	require.NoError(t, err)
	require.Len(t, firstResponse, 1)
	assert.Equal(t, due.ID, firstResponse[0].ID)
}

func TestPoliciesSeedOnlyWhenEmpty(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	seed := []domain.SLAPolicy{{Priority: domain.TicketPriorityLow, ResolutionBudgetMinutes: 10, ResponseBudgetMinutes: 5}}

	seeded, err := store.Policies().SeedIfEmpty(ctx, seed)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = store.Policies().SeedIfEmpty(ctx, seed)
	require.NoError(t, err)
	assert.False(t, seeded)

	list, err := store.Policies().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, storeNow, list[0].UpdatedAt)
}
