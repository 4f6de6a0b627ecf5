package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/lifecycle"
	"github.com/spec-kit/helpdesk-sla/internal/persistence"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-sla/pkg/util"
)

const policyCacheKey = "helpdesk:sla_policies"

// PolicyCache is the JSON cache in front of the policy table.
type PolicyCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PolicyService serves the SLA policy table and its administrative edits.
type PolicyService struct {
	policies repository.SLAPolicyRepository
	users    repository.UserRepository
	cache    PolicyCache
	ttl      time.Duration
	seed     []domain.SLAPolicy
	logger   *zap.Logger
}

// PolicyDependencies bundles collaborators. A nil Cache reads the store every time.
type PolicyDependencies struct {
	PolicyRepo repository.SLAPolicyRepository
	UserRepo   repository.UserRepository
	Cache      PolicyCache
	CacheTTL   time.Duration
	Seed       []domain.SLAPolicy
	Logger     *zap.Logger
}

// NewPolicyService creates the service. Without Seed the built-in defaults are used.
func NewPolicyService(deps PolicyDependencies) *PolicyService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := deps.Seed
	if len(seed) == 0 {
		seed = lifecycle.DefaultPolicies()
	}
	return &PolicyService{
		policies: deps.PolicyRepo,
		users:    deps.UserRepo,
		cache:    deps.Cache,
		ttl:      deps.CacheTTL,
		seed:     seed,
		logger:   logger,
	}
}

// EnsureSeeded writes the seed table when the store holds no policies.
func (s *PolicyService) EnsureSeeded(ctx context.Context) error {
	seeded, err := s.policies.SeedIfEmpty(ctx, s.seed)
	if err != nil {
		return err
	}
	if seeded {
		s.logger.Info("seeded sla policies", zap.Int("count", len(s.seed)))
	}
	return nil
}

// Table returns the full policy table, from cache when possible.
func (s *PolicyService) Table(ctx context.Context) (lifecycle.PolicyTable, error) {
	if s.cache != nil {
		var cached []domain.SLAPolicy
		err := s.cache.GetJSON(ctx, policyCacheKey, &cached)
		switch {
		case err == nil:
			if table, ok := completeTable(cached); ok {
				return table, nil
			}
		case !errors.Is(err, persistence.ErrCacheMiss):
			s.logger.Warn("policy cache read failed", zap.Error(err))
		}
	}

	rows, err := s.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if err := s.EnsureSeeded(ctx); err != nil {
			return nil, err
		}
		if rows, err = s.policies.List(ctx); err != nil {
			return nil, err
		}
	}
	table, ok := completeTable(rows)
	if !ok {
		return nil, apperrors.NewInternalError(errors.New("sla policy table is incomplete"))
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, policyCacheKey, table.List(), s.ttl); err != nil {
			s.logger.Warn("policy cache write failed", zap.Error(err))
		}
	}
	return table, nil
}

// UpdatePolicy replaces the budgets of one priority. Only admins may edit
// policies; the cached table is dropped before returning.
func (s *PolicyService) UpdatePolicy(ctx context.Context, actorID string, policy domain.SLAPolicy) (*domain.SLAPolicy, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("admin role required")
	}
	if err := lifecycle.ValidatePolicy(policy); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), map[string]any{"priority": policy.Priority})
	}
	if err := s.policies.Upsert(ctx, &policy); err != nil {
		return nil, apperrors.MapError(err)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, policyCacheKey); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}
	s.logger.Info("sla policy updated",
		zap.String("priority", string(policy.Priority)),
		zap.Int("resolution_budget_minutes", policy.ResolutionBudgetMinutes),
		zap.Int("response_budget_minutes", policy.ResponseBudgetMinutes),
		zap.String("actor_id", actorID))
	return &policy, nil
}

func completeTable(rows []domain.SLAPolicy) (lifecycle.PolicyTable, bool) {
	table := lifecycle.NewPolicyTable(rows)
	for _, p := range domain.Priorities {
		if _, ok := table[p]; !ok {
			return nil, false
		}
	}
	return table, true
}
