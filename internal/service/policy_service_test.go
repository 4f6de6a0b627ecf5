package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/persistence"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

type fakeCache struct {
	values  map[string][]byte
	gets    int
	deletes []string
}

func newFakeCache() *fakeCache { return &fakeCache{values: map[string][]byte{}} }

func (c *fakeCache) GetJSON(_ context.Context, key string, dst any) error {
	c.gets++
	raw, ok := c.values[key]
	if !ok {
		return persistence.ErrCacheMiss
	}
	return json.Unmarshal(raw, dst)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.values, k)
		c.deletes = append(c.deletes, k)
	}
	return nil
}

func TestPolicyTableSeedsEmptyStore(t *testing.T) {
	store := repository.NewMemoryStore(nil)
	svc := NewPolicyService(PolicyDependencies{PolicyRepo: store.Policies(), UserRepo: store.Users()})

	table, err := svc.Table(context.Background())
	require.NoError(t, err)

	high, err := table.Lookup(domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 480, high.ResolutionBudgetMinutes)
	assert.Equal(t, 60, high.ResponseBudgetMinutes)
	assert.Len(t, table.List(), 4)
}

func TestPolicyTableUsesCacheAndUpdateInvalidates(t *testing.T) {
	fx := newFixture(t)
	cache := newFakeCache()
	svc := NewPolicyService(PolicyDependencies{
		PolicyRepo: fx.store.Policies(),
		UserRepo:   fx.store.Users(),
		Cache:      cache,
		CacheTTL:   time.Minute,
	})

	_, err := svc.Table(fx.ctx)
	require.NoError(t, err)
	require.Contains(t, cache.values, policyCacheKey)

	// A store write behind the cache stays invisible until invalidation.
	require.NoError(t, fx.store.Policies().Upsert(fx.ctx, &domain.SLAPolicy{
		Priority: domain.TicketPriorityHigh, ResolutionBudgetMinutes: 1, ResponseBudgetMinutes: 1,
	}))
	cached, err := svc.Table(fx.ctx)
	require.NoError(t, err)
	high, _ := cached.Lookup(domain.TicketPriorityHigh)
	assert.Equal(t, 480, high.ResolutionBudgetMinutes)

	updated, err := svc.UpdatePolicy(fx.ctx, fx.admin.ID, domain.SLAPolicy{
		Priority: domain.TicketPriorityHigh, ResolutionBudgetMinutes: 300, ResponseBudgetMinutes: 45,
	})
	require.NoError(t, err)
	assert.Equal(t, 300, updated.ResolutionBudgetMinutes)
	assert.Equal(t, []string{policyCacheKey}, cache.deletes)

	fresh, err := svc.Table(fx.ctx)
	require.NoError(t, err)
	high, _ = fresh.Lookup(domain.TicketPriorityHigh)
	assert.Equal(t, 300, high.ResolutionBudgetMinutes)
	assert.Equal(t, 45, high.ResponseBudgetMinutes)
}

func TestUpdatePolicyRejections(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.policies.UpdatePolicy(fx.ctx, fx.agent.ID, domain.SLAPolicy{
		Priority: domain.TicketPriorityLow, ResolutionBudgetMinutes: 10, ResponseBudgetMinutes: 5,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = fx.policies.UpdatePolicy(fx.ctx, fx.admin.ID, domain.SLAPolicy{
		Priority: domain.TicketPriorityLow, ResolutionBudgetMinutes: 0, ResponseBudgetMinutes: 5,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = fx.policies.UpdatePolicy(fx.ctx, fx.admin.ID, domain.SLAPolicy{
		Priority: "URGENT", ResolutionBudgetMinutes: 10, ResponseBudgetMinutes: 5,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestNewTicketsUseUpdatedPolicy(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.policies.UpdatePolicy(fx.ctx, fx.admin.ID, domain.SLAPolicy{
		Priority: domain.TicketPriorityHigh, ResolutionBudgetMinutes: 120, ResponseBudgetMinutes: 15,
	})
	require.NoError(t, err)

	ticket := fx.open(domain.TicketPriorityHigh)
	assert.Equal(t, base.Add(15*time.Minute), *ticket.FirstResponseTarget)
}
