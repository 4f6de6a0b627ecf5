package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
)

// SLAPolicyRepository stores the priority to budget table.
type SLAPolicyRepository interface {
	List(ctx context.Context) ([]domain.SLAPolicy, error)
	Upsert(ctx context.Context, policy *domain.SLAPolicy) error
	// SeedIfEmpty inserts defaults when the table has no rows and reports
	// whether it did.
	SeedIfEmpty(ctx context.Context, defaults []domain.SLAPolicy) (bool, error)
}

type slaPolicyRepository struct {
	db DBTX
}

// NewSLAPolicyRepository builds repository.
func NewSLAPolicyRepository(db DBTX) SLAPolicyRepository {
	return &slaPolicyRepository{db: db}
}

func (r *slaPolicyRepository) List(ctx context.Context) ([]domain.SLAPolicy, error) {
	const query = `
        SELECT priority, resolution_budget_minutes, response_budget_minutes, updated_at
        FROM sla_policies`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var p domain.SLAPolicy
		if err := rows.Scan(&p.Priority, &p.ResolutionBudgetMinutes, &p.ResponseBudgetMinutes, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *slaPolicyRepository) Upsert(ctx context.Context, policy *domain.SLAPolicy) error {
	const query = `
        INSERT INTO sla_policies (priority, resolution_budget_minutes, response_budget_minutes)
        VALUES ($1,$2,$3)
        ON CONFLICT (priority) DO UPDATE SET
            resolution_budget_minutes=EXCLUDED.resolution_budget_minutes,
            response_budget_minutes=EXCLUDED.response_budget_minutes,
            updated_at=NOW()
        RETURNING updated_at`
	return r.db.QueryRow(ctx, query,
		policy.Priority,
		policy.ResolutionBudgetMinutes,
		policy.ResponseBudgetMinutes,
	).Scan(&policy.UpdatedAt)
}

func (r *slaPolicyRepository) SeedIfEmpty(ctx context.Context, defaults []domain.SLAPolicy) (bool, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sla_policies`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	for i := range defaults {
		p := defaults[i]
		if err := r.Upsert(ctx, &p); err != nil {
			return false, err
		}
	}
	return true, nil
}
