package domain

import "time"

// SLAPolicy holds the time budgets applied to tickets of one priority.
type SLAPolicy struct {
	Priority                TicketPriority `json:"priority" yaml:"priority"`
	ResolutionBudgetMinutes int            `json:"resolution_budget_minutes" yaml:"resolution_budget_minutes"`
	ResponseBudgetMinutes   int            `json:"response_budget_minutes" yaml:"response_budget_minutes"`
	UpdatedAt               time.Time      `json:"updated_at" yaml:"-"`
}

// ResolutionBudget returns the resolution budget as a duration.
func (p SLAPolicy) ResolutionBudget() time.Duration {
	return time.Duration(p.ResolutionBudgetMinutes) * time.Minute
}

// ResponseBudget returns the first-response budget as a duration.
func (p SLAPolicy) ResponseBudget() time.Duration {
	return time.Duration(p.ResponseBudgetMinutes) * time.Minute
}
