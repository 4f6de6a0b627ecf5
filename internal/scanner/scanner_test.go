package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type recordingMetrics struct {
	breaches map[string]int
	scans    int
}

func (m *recordingMetrics) RecordBreach(kind string)  { m.breaches[kind]++ }
func (m *recordingMetrics) ObserveScan(time.Duration) { m.scans++ }

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{breaches: map[string]int{}}
}

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

type harness struct {
	store    *repository.MemoryStore
	recorder *events.Recorder
	metrics  *recordingMetrics
	scanner  *Scanner
}

func newHarness() *harness {
	rec := events.NewRecorder(nil)
	store := repository.NewMemoryStore(rec, repository.WithMemoryClock(func() time.Time { return now }))
	metrics := newRecordingMetrics()
	return &harness{
		store:    store,
		recorder: rec,
		metrics:  metrics,
		scanner:  New(Dependencies{Store: store, Metrics: metrics}),
	}
}

func (h *harness) seed(t *testing.T, ticket domain.Ticket) *domain.Ticket {
	t.Helper()
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityHigh
	}
	require.NoError(t, h.store.Tickets().Create(context.Background(), &ticket))
	return &ticket
}

func (h *harness) get(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := h.store.Tickets().GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func TestRunFlagsOverdueTicketOnce(t *testing.T) {
	h := newHarness()
	overdue := h.seed(t, domain.Ticket{
		Status:          domain.TicketStatusInProgress,
		SLAStartedAt:    at(-10 * time.Hour),
		SLATarget:       at(-2 * time.Hour),
		FirstResponseAt: at(-9 * time.Hour),
	})

	report, err := h.scanner.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{overdue.ID}, report.ResolutionBreached)
	assert.True(t, h.get(t, overdue.ID).IsOverdue)

	evs := h.recorder.OfType(events.EventResolutionBreached)
	require.Len(t, evs, 1)
	assert.Empty(t, evs[0].Actor.UserID)
	assert.Equal(t, events.BreachPayload{
		TicketNumber: overdue.Number,
		Deadline:     now.Add(-2 * time.Hour),
		DetectedAt:   now,
	}, evs[0].Payload)

	again, err := h.scanner.Run(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again.ResolutionBreached)
	assert.Len(t, h.recorder.OfType(events.EventResolutionBreached), 1)
	assert.Equal(t, 1, h.metrics.breaches[KindResolution])
	assert.Equal(t, 2, h.metrics.scans)
}

func TestRunFlagsUnansweredTicket(t *testing.T) {
	h := newHarness()
	late := h.seed(t, domain.Ticket{
		Status:              domain.TicketStatusTodo,
		FirstResponseTarget: at(-time.Minute),
	})
	answered := h.seed(t, domain.Ticket{
		Status:              domain.TicketStatusTodo,
		FirstResponseTarget: at(-time.Minute),
		FirstResponseAt:     at(-2 * time.Minute),
	})

	report, err := h.scanner.Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, []string{late.ID}, report.FirstResponseBreached)
	assert.True(t, h.get(t, late.ID).IsFirstResponseBreached)
	assert.False(t, h.get(t, answered.ID).IsFirstResponseBreached)
	assert.Len(t, h.recorder.OfType(events.EventFirstResponseBreached), 1)
	assert.Equal(t, 1, h.metrics.breaches[KindFirstResponse])
}

func TestRunSkipsPausedClosedAndNotYetDue(t *testing.T) {
	h := newHarness()
	paused := h.seed(t, domain.Ticket{
		Status:              domain.TicketStatusWaitingVendor,
		SLAStartedAt:        at(-10 * time.Hour),
		SLATarget:           at(-time.Hour),
		LastPausedAt:        at(-2 * time.Hour),
		FirstResponseTarget: at(-time.Hour),
	})
	resolved := h.seed(t, domain.Ticket{
		Status:              domain.TicketStatusResolved,
		SLAStartedAt:        at(-10 * time.Hour),
		SLATarget:           at(-time.Hour),
		FirstResponseTarget: at(-time.Hour),
		ResolvedAt:          at(-30 * time.Minute),
	})
	exact := h.seed(t, domain.Ticket{
		Status:              domain.TicketStatusInProgress,
		SLAStartedAt:        at(-8 * time.Hour),
		SLATarget:           at(0),
		FirstResponseTarget: at(0),
	})

	report, err := h.scanner.Run(context.Background(), now)
	require.NoError(t, err)

	assert.Empty(t, report.ResolutionBreached)
	assert.Empty(t, report.FirstResponseBreached)
	for _, id := range []string{paused.ID, resolved.ID, exact.ID} {
		ticket := h.get(t, id)
		assert.False(t, ticket.IsOverdue, id)
		assert.False(t, ticket.IsFirstResponseBreached, id)
	}
	assert.Empty(t, h.recorder.Events())
}

func TestRunContinuesPastFailingTicket(t *testing.T) {
	h := newHarness()
	broken := h.seed(t, domain.Ticket{
		Status:       domain.TicketStatusInProgress,
		SLAStartedAt: at(-10 * time.Hour),
		SLATarget:    at(-3 * time.Hour),
	})
	healthy := h.seed(t, domain.Ticket{
		Status:       domain.TicketStatusInProgress,
		SLAStartedAt: at(-10 * time.Hour),
		SLATarget:    at(-2 * time.Hour),
	})
	h.store.InjectFault(broken.ID, errors.New("row locked"))

	report, err := h.scanner.Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{healthy.ID}, report.ResolutionBreached)
	assert.False(t, h.get(t, broken.ID).IsOverdue)

	h.store.InjectFault(broken.ID, nil)
	retry, err := h.scanner.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{broken.ID}, retry.ResolutionBreached)
}

func TestFlaggingBumpsVersion(t *testing.T) {
	h := newHarness()
	ticket := h.seed(t, domain.Ticket{
		Status:              domain.TicketStatusTodo,
		FirstResponseTarget: at(-time.Minute),
	})

	_, err := h.scanner.Run(context.Background(), now)
	require.NoError(t, err)

	stale := *ticket
	stale.Title = "edited from a stale copy"
	err = h.store.Tickets().Update(context.Background(), &stale)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}
