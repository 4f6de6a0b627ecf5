package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

type countingBulkMetrics struct {
	failures []int
}

func (m *countingBulkMetrics) RecordBulkFailures(n int) { m.failures = append(m.failures, n) }

func TestBulkUpdateIsolatesFailures(t *testing.T) {
	fx := newFixture(t)
	metrics := &countingBulkMetrics{}
	bulk, err := NewBulkService(BulkDependencies{
		Store: fx.store, Policies: fx.policies, Clock: fx.clock, Metrics: metrics,
	})
	require.NoError(t, err)
	defer bulk.Close()

	a := fx.open(domain.TicketPriorityHigh)
	b := fx.open(domain.TicketPriorityHigh)
	c := fx.open(domain.TicketPriorityHigh)
	fx.store.InjectFault(b.ID, errors.New("disk full"))
	fx.recorder.Reset()

	result, err := bulk.BulkUpdate(fx.ctx, []string{a.ID, b.ID, c.ID, a.ID, "missing"},
		TicketUpdateInput{Status: statusPtr(domain.TicketStatusInProgress)}, fx.agent.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.UpdatedCount)
	assert.Equal(t, []string{b.ID, "missing"}, result.FailedIDs)
	assert.Equal(t, []int{2}, metrics.failures)

	assert.Equal(t, domain.TicketStatusInProgress, fx.reload(a.ID).Status)
	assert.Equal(t, domain.TicketStatusTodo, fx.reload(b.ID).Status)
	assert.Equal(t, domain.TicketStatusInProgress, fx.reload(c.ID).Status)

	assert.Empty(t, fx.recorder.OfType(events.EventTicketUpdated))
	refreshed := fx.recorder.OfType(events.EventTicketsRefreshed)
	require.Len(t, refreshed, 1)
	payload, ok := refreshed[0].Payload.(events.TicketsRefreshedPayload)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{a.ID, c.ID}, payload.TicketIDs)
}

func TestBulkUpdateCountsClosedAsFailedAndNoopAsNeither(t *testing.T) {
	fx := newFixture(t)
	open := fx.open(domain.TicketPriorityLow)
	already := fx.open(domain.TicketPriorityLow)
	closed := fx.open(domain.TicketPriorityLow)
	fx.setStatus(already.ID, domain.TicketStatusInProgress)
	fx.setStatus(closed.ID, domain.TicketStatusResolved)

	result, err := fx.bulk.BulkUpdate(fx.ctx, []string{open.ID, already.ID, closed.ID},
		TicketUpdateInput{Status: statusPtr(domain.TicketStatusInProgress)}, fx.agent.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, []string{closed.ID}, result.FailedIDs)
}

func TestBulkResolveRequestsSurveys(t *testing.T) {
	fx := newFixture(t)
	a := fx.open(domain.TicketPriorityMedium)
	b := fx.open(domain.TicketPriorityMedium)
	fx.recorder.Reset()

	result, err := fx.bulk.BulkUpdate(fx.ctx, []string{a.ID, b.ID},
		TicketUpdateInput{Status: statusPtr(domain.TicketStatusResolved)}, fx.admin.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.UpdatedCount)
	assert.Empty(t, result.FailedIDs)
	assert.Len(t, fx.recorder.OfType(events.EventSurveyRequested), 2)
}

func TestBulkUpdateRejectsBadRequests(t *testing.T) {
	fx := newFixture(t)
	ticket := fx.open(domain.TicketPriorityMedium)
	ids := []string{ticket.ID}

	_, err := fx.bulk.BulkUpdate(fx.ctx, ids, TicketUpdateInput{}, fx.agent.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = fx.bulk.BulkUpdate(fx.ctx, []string{" "}, TicketUpdateInput{Status: statusPtr(domain.TicketStatusInProgress)}, fx.agent.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = fx.bulk.BulkUpdate(fx.ctx, ids, TicketUpdateInput{Priority: priorityPtr("P0")}, fx.agent.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = fx.bulk.BulkUpdate(fx.ctx, ids, TicketUpdateInput{Status: statusPtr(domain.TicketStatusInProgress)}, fx.requester.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = fx.bulk.BulkUpdate(fx.ctx, ids, TicketUpdateInput{AssigneeID: strPtr(fx.other.ID)}, fx.agent.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidAssignee))

	assert.Equal(t, domain.TicketStatusTodo, fx.reload(ticket.ID).Status)
}
